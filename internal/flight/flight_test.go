package flight

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testCoordinator(t *testing.T) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, 10*time.Minute, testLogger()), dir
}

// deadPID returns the PID of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func writeLock(t *testing.T, dir, category string, info lockInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "locks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "locks", category+".lock"), data, 0644))
}

func TestAcquireRelease(t *testing.T) {
	c, dir := testCoordinator(t)

	require.True(t, c.TryAcquire("billing"))

	// The lock file records this process as holder.
	data, err := os.ReadFile(filepath.Join(dir, "locks", "billing.lock"))
	require.NoError(t, err)
	var info lockInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, os.Getpid(), info.PID)

	// Held by a live process (ourselves): a second acquire loses.
	assert.False(t, c.TryAcquire("billing"))

	c.Release("billing")
	assert.True(t, c.TryAcquire("billing"))
	c.Release("billing")
}

func TestIndependentCategories(t *testing.T) {
	c, _ := testCoordinator(t)

	require.True(t, c.TryAcquire("billing"))
	assert.True(t, c.TryAcquire("quota"), "categories must lock independently")
	c.Release("billing")
	c.Release("quota")
}

func TestDeadHolderReclaimed(t *testing.T) {
	c, dir := testCoordinator(t)

	writeLock(t, dir, "billing", lockInfo{PID: deadPID(t), AcquiredAt: time.Now()})

	assert.True(t, c.TryAcquire("billing"), "a dead holder's lock must be reclaimed")
	c.Release("billing")
}

func TestCorruptLockReclaimed(t *testing.T) {
	c, dir := testCoordinator(t)

	lockPath := filepath.Join(dir, "locks", "billing.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0755))
	require.NoError(t, os.WriteFile(lockPath, []byte("garbage"), 0644))
	// Age the file past the write grace so it cannot be an in-flight write.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	assert.True(t, c.TryAcquire("billing"))
	c.Release("billing")
}

func TestFreshUnreadableLockNotReclaimed(t *testing.T) {
	c, dir := testCoordinator(t)

	// An empty lock file with a fresh mtime is a write in flight, not
	// corruption.
	lockPath := filepath.Join(dir, "locks", "billing.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0755))
	require.NoError(t, os.WriteFile(lockPath, nil, 0644))

	assert.False(t, c.TryAcquire("billing"))
}

func TestStaleLiveHolderReclaimed(t *testing.T) {
	c, dir := testCoordinator(t)

	// Our own PID is alive, but the lock is older than the stale age, so
	// the PID must belong to a reused slot.
	writeLock(t, dir, "billing", lockInfo{
		PID:        os.Getpid(),
		AcquiredAt: time.Now().Add(-time.Hour),
	})

	assert.True(t, c.TryAcquire("billing"))
	c.Release("billing")
}

func TestReleaseUnheld(t *testing.T) {
	c, _ := testCoordinator(t)
	c.Release("never-acquired")
}

func TestConcurrentAcquireExactlyOne(t *testing.T) {
	c, _ := testCoordinator(t)

	const goroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire("billing") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one concurrent acquire may win")
	c.Release("billing")
}
