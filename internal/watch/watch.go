// Package watch follows one transcript file for the development follow
// mode: real-time fsnotify events on the containing directory, with a
// polling fallback for filesystems that drop notifications.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher emits an empty struct every time the watched file changes.
type Watcher struct {
	path   string
	fsw    *fsnotify.Watcher
	events chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	size    int64
	modTime time.Time
	closed  bool

	log logrus.FieldLogger
}

// New starts watching path. pollInterval guards against missed fsnotify
// events; zero disables polling.
func New(path string, pollInterval time.Duration, log logrus.FieldLogger) (*Watcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and appenders often
	// replace files, which unhooks a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:   path,
		fsw:    fsw,
		events: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    log,
	}
	if info, err := os.Stat(path); err == nil {
		w.size = info.Size()
		w.modTime = info.ModTime()
	}

	go w.loop(pollInterval)
	return w, nil
}

// Events returns the change notification channel.
func (w *Watcher) Events() <-chan struct{} { return w.events }

func (w *Watcher) loop(pollInterval time.Duration) {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if pollInterval > 0 {
		ticker = time.NewTicker(pollInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.notifyIfChanged()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Debug("watch error")
		case <-tick:
			w.notifyIfChanged()
		}
	}
}

// notifyIfChanged compares size and mtime against the last notification
// and coalesces duplicate events.
func (w *Watcher) notifyIfChanged() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.Size() != w.size || !info.ModTime().Equal(w.modTime)
	if changed {
		w.size = info.Size()
		w.modTime = info.ModTime()
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	select {
	case w.events <- struct{}{}:
	default:
	}
}

// Close stops the watcher. The events channel is left open so a
// concurrent notify cannot panic; callers stop selecting on it.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.fsw.Close()
}
