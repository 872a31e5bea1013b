package invocation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultReapInterval is the default time between reaper sweeps.
const DefaultReapInterval = 30 * time.Second

// Journal records reclaimed orphans for later inspection.
type Journal interface {
	RecordOrphans(ctx context.Context, orphans []Pending) error
}

// SweepResult reports one reaper pass.
type SweepResult struct {
	// Reclaimed are orphaned invocations removed by this sweep.
	Reclaimed []Pending

	// Lingering are ids that were pending at the previous sweep and still
	// are, excluding reclaimed orphans. They are reported, not removed.
	Lingering []uint64
}

// Reaper reclaims orphaned invocations.
//
// An invocation becomes orphaned when it was registered but its ready event
// could not be posted (the loop had shut down). Nothing will ever take it, so
// the reaper removes it, wakes any blocked waiter, and hands the description
// to the journal if one is configured.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	journal  Journal
	onSweep  func(SweepResult)

	mu   sync.Mutex
	seen mapset.Set[uint64]
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithInterval sets the sweep interval used by Run.
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.interval = d
	}
}

// WithJournal records reclaimed orphans to j.
func WithJournal(j Journal) ReaperOption {
	return func(r *Reaper) {
		r.journal = j
	}
}

// WithSweepHook calls fn after every sweep.
func WithSweepHook(fn func(SweepResult)) ReaperOption {
	return func(r *Reaper) {
		r.onSweep = fn
	}
}

// NewReaper creates a reaper over reg.
func NewReaper(reg *Registry, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		reg:      reg,
		interval: DefaultReapInterval,
		seen:     mapset.NewSet[uint64](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep performs one reaper pass.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orphans := mapset.NewSet(r.reg.OrphanedIDs()...)
	reclaimed := r.reg.Discard(orphans.ToSlice())

	current := mapset.NewSet(r.reg.PendingIDs()...)
	lingering := current.Intersect(r.seen).ToSlice()
	sort.Slice(lingering, func(i, j int) bool { return lingering[i] < lingering[j] })
	r.seen = current

	res := SweepResult{Reclaimed: reclaimed, Lingering: lingering}

	if len(reclaimed) > 0 {
		slog.Warn("reclaimed orphaned invocations",
			"count", len(reclaimed),
			"first_id", reclaimed[0].ID,
		)
	}
	if len(lingering) > 0 {
		slog.Warn("invocations pending across sweeps",
			"count", len(lingering),
			"oldest_id", lingering[0],
		)
	}

	if r.onSweep != nil {
		r.onSweep(res)
	}

	if r.journal != nil && len(reclaimed) > 0 {
		if err := r.journal.RecordOrphans(ctx, reclaimed); err != nil {
			return res, fmt.Errorf("journal orphans: %w", err)
		}
	}

	return res, nil
}

// Run sweeps every interval until ctx is cancelled.
// Journal failures are logged and do not stop the reaper.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil {
				slog.Error("reaper sweep failed", "error", err)
			}
		}
	}
}
