// Package orchestrator drives one invocation: resolves every registered
// source under its tier's rules and merges the results into one
// aggregate health record. No single source failure ever aborts an
// invocation; output is always produced, degraded if necessary.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wilbur182/pulse/internal/source"
)

// Orchestrator resolves a registry of sources for single invocations.
type Orchestrator struct {
	reg     *source.Registry
	version string
	log     logrus.FieldLogger
}

// New creates an orchestrator over the given per-invocation registry.
func New(reg *source.Registry, version string, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{reg: reg, version: version, log: log}
}

// Run resolves all sources and returns the aggregate record. The context
// carries the overall invocation deadline: sources unresolved when it
// elapses are abandoned in favor of their last known value, and Run
// returns at the deadline or full resolution, whichever comes first.
func (o *Orchestrator) Run(ctx context.Context, inv *source.Invocation) *source.Health {
	h := &source.Health{
		SessionID:   inv.Input.SessionID,
		Invocation:  inv.ID,
		GeneratedAt: inv.Clock(),
		Version:     o.version,
	}

	descriptors := o.reg.All()

	// Tier 1 runs synchronously and merges before everything else.
	for _, d := range descriptors {
		if d.Tier != source.TierInstant {
			continue
		}
		res, err := d.Fetch(ctx, inv)
		if err != nil {
			o.noteFailure(inv, d, err)
			continue
		}
		d.Merge(res, h)
	}

	type outcome struct {
		res source.Result
		ok  bool
	}
	outcomes := make([]outcome, len(descriptors))
	var mu sync.Mutex

	var g errgroup.Group
	for i, d := range descriptors {
		if d.Tier == source.TierInstant {
			continue
		}
		i, d := i, d
		g.Go(func() error {
			var res source.Result
			var ok bool
			switch d.Tier {
			case source.TierSession:
				res, ok = o.fetchSession(ctx, inv, d)
			case source.TierGlobal:
				res, ok = o.fetchGlobal(ctx, inv, d)
			}
			mu.Lock()
			outcomes[i] = outcome{res: res, ok: ok}
			mu.Unlock()
			return nil
		})
	}

	// Join with the overall deadline. An abandoned fetch keeps running
	// in the background and may still populate the shared cache for a
	// future invocation; this one simply stops waiting.
	joined := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-ctx.Done():
	}

	mu.Lock()
	snapshot := make([]outcome, len(outcomes))
	copy(snapshot, outcomes)
	mu.Unlock()

	// Merge order follows registration order; each merge owns a
	// disjoint subtree so ordering between sources is immaterial.
	for i, d := range descriptors {
		if d.Tier == source.TierInstant || !snapshot[i].ok {
			continue
		}
		d.Merge(snapshot[i].res, h)
	}
	return h
}

// fetchSession resolves one tier-2 source under its own timeout. A
// timeout or failure marks the source unavailable for this invocation
// only; the prior aggregate fields stay untouched.
func (o *Orchestrator) fetchSession(ctx context.Context, inv *source.Invocation, d source.Descriptor) (source.Result, bool) {
	fctx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	res, err := d.Fetch(fctx, inv)
	if err != nil {
		o.noteFailure(inv, d, err)
		return nil, false
	}
	return res, true
}

// fetchGlobal resolves one tier-3 source through the shared cache store
// and the cross-process single-flight coordinator.
func (o *Orchestrator) fetchGlobal(ctx context.Context, inv *source.Invocation, d source.Descriptor) (source.Result, bool) {
	entry, fresh := inv.Store.Read(d.Category)
	if fresh {
		if res, err := d.Decode(entry.Value); err == nil {
			return res, true
		}
		// Undecodable entry is corruption; treat as stale and refresh.
	}

	if inv.Flight.TryAcquire(d.Category) {
		type fetched struct {
			res source.Result
			err error
		}
		ch := make(chan fetched, 1)
		go func() {
			// Rooted off the background context so the refresh can
			// outlive this invocation's deadline and still write back.
			fctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
			defer cancel()
			defer inv.Flight.Release(d.Category)

			res, err := d.Fetch(fctx, inv)
			if err == nil {
				if werr := inv.Store.Write(d.Category, res); werr != nil {
					o.log.WithError(werr).WithField("category", d.Category).Warn("cache write-back failed")
				}
			}
			ch <- fetched{res: res, err: err}
		}()

		select {
		case f := <-ch:
			if f.err == nil {
				return f.res, true
			}
			o.noteFailure(inv, d, f.err)
		case <-ctx.Done():
			o.log.WithField("category", d.Category).Debug("refresh abandoned at deadline")
		}
	}

	// Losing process, failed refresh, or abandoned wait: use the
	// current value regardless of freshness rather than blocking on
	// another process's in-flight fetch.
	if entry != nil {
		if res, err := d.Decode(entry.Value); err == nil {
			return res, true
		}
	}
	return nil, false
}

func (o *Orchestrator) noteFailure(inv *source.Invocation, d source.Descriptor, err error) {
	o.log.WithError(err).WithField("source", d.ID).Debug("source unavailable this invocation")
	inv.Diag.FetchError(d.ID, d.Category, err)
}

// DeadlineContext derives the invocation context from the configured
// overall deadline.
func DeadlineContext(parent context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	if deadline <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, deadline)
}
