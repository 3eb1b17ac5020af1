// Package atomicfile writes files via a temp file and rename, so readers
// in other processes never observe a partial write.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TempSuffix marks in-flight writes. Readers skip files carrying it.
const TempSuffix = ".tmp"

// WriteFile writes data to path atomically. The temp file lives in the
// target directory so the rename cannot cross filesystems. If rename is
// unavailable on the platform or mount, it falls back to a direct write.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "atomicfile: mkdir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+TempSuffix+"-*")
	if err != nil {
		// No temp file possible; a direct write is better than nothing.
		return os.WriteFile(path, data, perm)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "atomicfile: write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "atomicfile: close")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "atomicfile: chmod")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return os.WriteFile(path, data, perm)
	}
	return nil
}
