// Package cache is a short-TTL in-process memoization layer protecting
// producers from redundant recomputation across rapid repeated
// invocations.
package cache

import (
	"sort"
	"sync"
	"time"
)

// Entry holds one cached value with its expiry and estimated footprint.
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
	Size      int
}

// Cache is a thread-safe TTL cache bounded by entry count and estimated
// total bytes. Eviction removes expired entries first, then the
// earliest-expiring entries until the bounds hold.
type Cache[T any] struct {
	mu         sync.Mutex
	entries    map[string]Entry[T]
	defaultTTL time.Duration
	maxEntries int
	maxBytes   int
	totalBytes int
	now        func() time.Time
}

// New creates a cache with the given default TTL and bounds.
func New[T any](defaultTTL time.Duration, maxEntries, maxBytes int) *Cache[T] {
	return &Cache[T]{
		entries:    make(map[string]Entry[T]),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (c *Cache[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value, or (zero, false) if absent or expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !entry.ExpiresAt.After(c.now()) {
		var zero T
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value with the default TTL. Size is the caller's estimate
// of the value's byte footprint.
func (c *Cache[T]) Set(key string, value T, size int) {
	c.SetTTL(key, value, size, c.defaultTTL)
}

// SetTTL stores a value with an explicit TTL.
func (c *Cache[T]) SetTTL(key string, value T, size int, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.Size
	}
	c.entries[key] = Entry[T]{Value: value, ExpiresAt: c.now().Add(ttl), Size: size}
	c.totalBytes += size

	c.evictLocked()
}

// Invalidate removes one entry.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.totalBytes -= old.Size
		delete(c.entries, key)
	}
}

// Clear removes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[T])
	c.totalBytes = 0
}

// Len returns the number of entries, expired included.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked enforces the bounds. Must be called with the lock held.
func (c *Cache[T]) evictLocked() {
	if len(c.entries) <= c.maxEntries && c.totalBytes <= c.maxBytes {
		return
	}

	// Expired entries go first.
	now := c.now()
	for key, e := range c.entries {
		if !e.ExpiresAt.After(now) {
			c.totalBytes -= e.Size
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries && c.totalBytes <= c.maxBytes {
		return
	}

	// Then earliest-expiring until the bounds hold.
	type keyExpiry struct {
		key string
		at  time.Time
	}
	order := make([]keyExpiry, 0, len(c.entries))
	for key, e := range c.entries {
		order = append(order, keyExpiry{key, e.ExpiresAt})
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].at.Before(order[j].at)
	})

	for _, ke := range order {
		if len(c.entries) <= c.maxEntries && c.totalBytes <= c.maxBytes {
			break
		}
		c.totalBytes -= c.entries[ke.key].Size
		delete(c.entries, ke.key)
	}
}
