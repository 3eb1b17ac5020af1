// Package checkpoint persists per-session incremental-scan positions so
// later invocations rescan only appended bytes. One checkpoint exists per
// (session, scanned file); sessions never see each other's checkpoints.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/wilbur182/pulse/internal/atomicfile"
)

// SchemaVersion tags the checkpoint file format. Files carrying any other
// version are treated as absent, never interpreted.
const SchemaVersion = 2

// LastMessage is the most recent attributable message preview.
type LastMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint records where an incremental scan of one file left off,
// together with the running summary derivable without re-reading.
type Checkpoint struct {
	Version   int    `json:"version"`
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`

	// ByteOffset is the position after the last fully parsed line. It
	// only decreases when truncation forces a full rescan.
	ByteOffset int64     `json:"byteOffset"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"modTime"`

	MessageCount int          `json:"messageCount"`
	Approximate  bool         `json:"approximate,omitempty"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`

	// ExtractorState holds per-extractor accumulated findings and
	// fingerprints, opaque to this package.
	ExtractorState map[string]json.RawMessage `json:"extractorState,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionInfo describes one session's persisted state for maintenance.
type SessionInfo struct {
	ID        string
	Files     int
	UpdatedAt time.Time
}

// Manager stores checkpoints under <base>/sessions/<session id>/.
type Manager struct {
	dir string
	log logrus.FieldLogger
}

// NewManager creates a manager rooted at the given base state directory.
func NewManager(baseDir string, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{dir: filepath.Join(baseDir, "sessions"), log: log}
}

// filePath keys the checkpoint file on (session, scanned path). The path
// hash keeps one file per scanned file without encoding the path itself.
func (m *Manager) filePath(sessionID, scanned string) string {
	h := xxhash.Sum64String(scanned)
	return filepath.Join(m.dir, sessionID, fmt.Sprintf("ckpt-%016x.json", h))
}

// Load returns the checkpoint for (sessionID, path), or nil when absent,
// corrupt, or carrying an unknown schema version. On first load after an
// upgrade it migrates legacy per-feature state files instead of
// discarding their history.
func (m *Manager) Load(sessionID, path string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.filePath(sessionID, path))
	if err != nil {
		if os.IsNotExist(err) {
			return m.migrateLegacy(sessionID, path), nil
		}
		return nil, err
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		m.log.WithError(err).WithField("session", sessionID).Debug("corrupt checkpoint treated as absent")
		return nil, nil
	}
	if c.Version != SchemaVersion {
		m.log.WithFields(logrus.Fields{"session": sessionID, "version": c.Version}).
			Debug("unknown checkpoint version treated as absent")
		return nil, nil
	}
	return &c, nil
}

// Save writes the checkpoint atomically.
func (m *Manager) Save(c *Checkpoint) error {
	if c.SessionID == "" || c.Path == "" {
		return fmt.Errorf("checkpoint: missing session id or path")
	}
	c.Version = SchemaVersion
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(m.filePath(c.SessionID, c.Path), data, 0644)
}

// Delete removes all persisted state for a session. Maintenance only,
// never on the hot path.
func (m *Manager) Delete(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("checkpoint: empty session id")
	}
	return os.RemoveAll(filepath.Join(m.dir, sessionID))
}

// ListSessions enumerates sessions with persisted checkpoints.
func (m *Manager) ListSessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := SessionInfo{ID: e.Name()}
		files, err := os.ReadDir(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			info.Files++
			if fi, err := f.Info(); err == nil && fi.ModTime().After(info.UpdatedAt) {
				info.UpdatedAt = fi.ModTime()
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Prune evicts session state by count and age bounds. Invocations are too
// short-lived to clean up after themselves, so eviction happens here.
// Returns the number of sessions removed.
func (m *Manager) Prune(maxSessions int, maxAge time.Duration) (int, error) {
	infos, err := m.ListSessions()
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for i, info := range infos {
		tooOld := maxAge > 0 && info.UpdatedAt.Before(cutoff)
		overCount := maxSessions > 0 && i >= maxSessions
		if !tooOld && !overCount {
			continue
		}
		if err := m.Delete(info.ID); err != nil {
			m.log.WithError(err).WithField("session", info.ID).Warn("prune failed")
			continue
		}
		removed++
	}
	return removed, nil
}
