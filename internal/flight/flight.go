// Package flight guarantees at most one process performs a given
// expensive refresh at a time, across many concurrent short-lived
// invocations with no daemon. The mutex is a lock file whose existence
// plus liveness of the recorded holder PID encodes "held"; losers fall
// back to the cached value instead of waiting.
package flight

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// writeGrace covers the window between a lock file's creation and its
// payload landing. An unreadable lock younger than this is treated as
// held, not corrupt.
const writeGrace = 2 * time.Second

// lockInfo is the lock file payload.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Coordinator manages one lock file per freshness category under
// <base>/locks/.
type Coordinator struct {
	dir      string
	staleAge time.Duration
	pid      int
	now      func() time.Time
	log      logrus.FieldLogger
}

// New creates a coordinator. staleAge bounds how old a lock may be before
// it is reclaimed even from a live PID; invocations are far shorter, so
// an old lock means the PID was reused.
func New(baseDir string, staleAge time.Duration, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		dir:      filepath.Join(baseDir, "locks"),
		staleAge: staleAge,
		pid:      os.Getpid(),
		now:      time.Now,
		log:      log,
	}
}

func (c *Coordinator) lockPath(category string) string {
	return filepath.Join(c.dir, category+".lock")
}

// TryAcquire attempts to take the refresh lock for a category. It never
// blocks: on contention with a live holder it returns false and the
// caller degrades to the cached value. A lock whose holder is dead is
// reclaimed, with a single retry.
func (c *Coordinator) TryAcquire(category string) bool {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		c.log.WithError(err).Debug("lock dir create failed")
		return false
	}

	if c.create(category) {
		return true
	}

	holder, ok := c.readHolder(category)
	if ok && c.holderAlive(holder) {
		return false
	}
	if !ok && c.recentlyTouched(category) {
		// The creator may still be writing the payload.
		return false
	}

	// Dead holder, corrupt lock, or a lock old enough that the PID must
	// have been reused: reclaim and retry once.
	if err := os.Remove(c.lockPath(category)); err != nil && !os.IsNotExist(err) {
		return false
	}
	return c.create(category)
}

// create atomically creates the lock file, failing if it exists.
func (c *Coordinator) create(category string) bool {
	f, err := os.OpenFile(c.lockPath(category), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return false
	}
	data, merr := json.Marshal(lockInfo{PID: c.pid, AcquiredAt: c.now()})
	if merr == nil {
		_, err = f.Write(data)
	}
	cerr := f.Close()
	if merr != nil || err != nil || cerr != nil {
		os.Remove(c.lockPath(category))
		return false
	}
	return true
}

// recentlyTouched reports whether the lock file was modified within the
// write grace window.
func (c *Coordinator) recentlyTouched(category string) bool {
	info, err := os.Stat(c.lockPath(category))
	if err != nil {
		return false
	}
	return c.now().Sub(info.ModTime()) < writeGrace
}

func (c *Coordinator) readHolder(category string) (lockInfo, bool) {
	data, err := os.ReadFile(c.lockPath(category))
	if err != nil {
		return lockInfo{}, false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.PID <= 0 {
		return lockInfo{}, false
	}
	return info, true
}

// holderAlive probes the holder PID with a zero signal. This is the sole
// liveness mechanism; there is no lease renewal since invocations are
// too short-lived to renew anything.
func (c *Coordinator) holderAlive(info lockInfo) bool {
	if c.staleAge > 0 && c.now().Sub(info.AcquiredAt) > c.staleAge {
		return false
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

// Release deletes the lock file. Safe to call on an unheld lock; every
// acquire path must reach here on all exits.
func (c *Coordinator) Release(category string) {
	if err := os.Remove(c.lockPath(category)); err != nil && !os.IsNotExist(err) {
		c.log.WithError(err).WithField("category", category).Debug("lock release failed")
	}
}
