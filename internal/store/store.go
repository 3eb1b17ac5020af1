// Package store is the shared, file-backed cache for global (tier-3)
// data, one file per freshness category. Concurrent invocations across
// processes coordinate only through these files; every write is an
// atomic replace so no reader ever observes a partial entry.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wilbur182/pulse/internal/atomicfile"
)

// Entry is one cached value for a freshness category.
type Entry struct {
	Category     string          `json:"category"`
	Value        json.RawMessage `json:"value"`
	ProducedAt   time.Time       `json:"producedAt"`
	SizeEstimate int             `json:"sizeEstimate"`
}

// Category declares a freshness class of shared data with its TTL.
type Category struct {
	Name string
	TTL  time.Duration
}

type mirrorEntry struct {
	entry  *Entry
	readAt time.Time
}

// Store reads and writes category cache files under <base>/cache/. A
// short in-memory mirror collapses repeated reads during a burst of
// near-simultaneous lookups within one invocation.
type Store struct {
	dir        string
	categories map[string]Category
	mirrorTTL  time.Duration

	mu     sync.Mutex
	mirror map[string]mirrorEntry

	now func() time.Time
	log logrus.FieldLogger
}

// New creates a store rooted at the given base state directory.
func New(baseDir string, categories []Category, mirrorTTL time.Duration, log logrus.FieldLogger) *Store {
	cats := make(map[string]Category, len(categories))
	for _, c := range categories {
		cats[c.Name] = c
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		dir:        filepath.Join(baseDir, "cache"),
		categories: cats,
		mirrorTTL:  mirrorTTL,
		mirror:     make(map[string]mirrorEntry),
		now:        time.Now,
		log:        log,
	}
}

// SetClock overrides the clock, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) filePath(category string) string {
	return filepath.Join(s.dir, category+".json")
}

// Fresh reports whether the entry is within its category TTL. Unknown
// categories are never fresh, forcing a refresh attempt.
func (s *Store) Fresh(e *Entry) bool {
	if e == nil {
		return false
	}
	cat, ok := s.categories[e.Category]
	if !ok {
		return false
	}
	return e.ProducedAt.Add(cat.TTL).After(s.now())
}

// Read returns the current entry for a category and whether it is fresh.
// Stale entries are still returned, flagged non-fresh; the caller decides
// whether to refresh. Absence and corruption both yield nil.
func (s *Store) Read(category string) (*Entry, bool) {
	s.mu.Lock()
	if m, ok := s.mirror[category]; ok && s.now().Sub(m.readAt) < s.mirrorTTL {
		entry := m.entry
		s.mu.Unlock()
		return entry, s.Fresh(entry)
	}
	s.mu.Unlock()

	entry := s.readFile(category)

	s.mu.Lock()
	s.mirror[category] = mirrorEntry{entry: entry, readAt: s.now()}
	s.mu.Unlock()

	return entry, s.Fresh(entry)
}

func (s *Store) readFile(category string) *Entry {
	data, err := os.ReadFile(s.filePath(category))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).WithField("category", category).Debug("cache read failed")
		}
		return nil
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corruption is absence: the next writer replaces the file.
		s.log.WithError(err).WithField("category", category).Debug("corrupt cache entry dropped")
		return nil
	}
	if e.Category == "" {
		e.Category = category
	}
	return &e
}

// Write marshals the value and atomically replaces the category file.
func (s *Store) Write(category string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "store: marshal value")
	}
	entry := &Entry{
		Category:     category,
		Value:        raw,
		ProducedAt:   s.now(),
		SizeEstimate: len(raw),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "store: marshal entry")
	}
	if err := atomicfile.WriteFile(s.filePath(category), data, 0644); err != nil {
		return errors.Wrapf(err, "store: write %s", category)
	}

	s.mu.Lock()
	s.mirror[category] = mirrorEntry{entry: entry, readAt: s.now()}
	s.mu.Unlock()
	return nil
}

// Bust removes all category cache files. Maintenance only.
func (s *Store) Bust() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(s.dir, e.Name()))
	}
	s.mu.Lock()
	s.mirror = make(map[string]mirrorEntry)
	s.mu.Unlock()
	return nil
}
