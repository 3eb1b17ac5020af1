package watch

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func waitEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}
}

func TestAppendNotifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := New(path, 100*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{}\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	waitEvent(t, w)
}

func TestReplaceNotifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := New(path, 100*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	// Atomic-replace writers rename over the watched file.
	tmp := filepath.Join(dir, "session.jsonl.new")
	if err := os.WriteFile(tmp, []byte("{}\n{}\n"), 0644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitEvent(t, w)
}

func TestNoChangeNoEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := New(path, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	select {
	case <-w.Events():
		t.Error("unchanged file should not emit events")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOtherFilesIgnoredByFsnotify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Polling disabled: only fsnotify events for the watched path count.
	w, err := New(path, 0, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.jsonl"), []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write other: %v", err)
	}

	select {
	case <-w.Events():
		t.Error("a sibling file change should not notify")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := New(path, 0, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Close()
	w.Close()
}
