// Package source defines the data-source model for one status invocation:
// typed descriptors declaring where a datum comes from, how expensive it is,
// and which subtree of the aggregate health record it owns.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Tier classifies a data source by scope and cost.
type Tier int

const (
	// TierInstant sources derive from host-supplied input. Computed
	// synchronously, never time-boxed.
	TierInstant Tier = 1
	// TierSession sources are per-session and moderately expensive
	// (file scans, subprocess calls scoped to one pane).
	TierSession Tier = 2
	// TierGlobal sources are identical across every session on the
	// machine and expensive to refresh. Shared through the tiered
	// cache store and single-flight coordinator.
	TierGlobal Tier = 3
)

// Result is an opaque fetched value. Concrete sources produce their own
// typed results through the generic New constructor.
type Result any

// Descriptor declares one fetchable datum. Merge owns a disjoint subtree
// of the Health record; no two descriptors may write the same field.
type Descriptor struct {
	ID       string
	Tier     Tier
	Category string // freshness category, tier 3 only
	Timeout  time.Duration

	Fetch  func(ctx context.Context, inv *Invocation) (Result, error)
	Merge  func(res Result, h *Health)
	Decode func(data []byte) (Result, error)
}

// Options carries the optional descriptor fields for New.
type Options struct {
	Category string
	Timeout  time.Duration
}

// New builds an untyped Descriptor from a typed fetch/merge pair. The
// decode hook rehydrates a stored tier-3 cache entry back into T.
func New[T any](id string, tier Tier, opts Options, fetch func(context.Context, *Invocation) (T, error), merge func(T, *Health)) Descriptor {
	return Descriptor{
		ID:       id,
		Tier:     tier,
		Category: opts.Category,
		Timeout:  opts.Timeout,
		Fetch: func(ctx context.Context, inv *Invocation) (Result, error) {
			return fetch(ctx, inv)
		},
		Merge: func(res Result, h *Health) {
			if v, ok := res.(T); ok {
				merge(v, h)
			}
		},
		Decode: func(data []byte) (Result, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// Registry holds the descriptors registered for one invocation, in
// registration order. It is created per invocation and never shared.
type Registry struct {
	descriptors []Descriptor
	ids         map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Register appends a descriptor. Duplicate IDs are rejected so that no
// two sources can claim the same aggregate subtree by accident.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("source: descriptor without id")
	}
	if _, dup := r.ids[d.ID]; dup {
		return fmt.Errorf("source: duplicate descriptor %q", d.ID)
	}
	if d.Tier == TierGlobal && d.Category == "" {
		return fmt.Errorf("source: global descriptor %q without category", d.ID)
	}
	r.ids[d.ID] = struct{}{}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	return r.descriptors
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	return len(r.descriptors)
}
