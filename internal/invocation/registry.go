package invocation

import (
	"sort"
	"sync"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/completion"
	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// Invocation is a registered command awaiting execution on the dispatch goroutine.
type Invocation struct {
	ID           uint64
	Command      Command
	RegisteredAt time.Time

	handle *completion.Handle
}

// HasCompletion reports whether a waiter is blocked on this invocation.
func (inv *Invocation) HasCompletion() bool {
	return inv.handle != nil
}

// Execute runs the command, then signals the completion handle if present.
// The signal is the last thing Execute does, so a waiter never wakes before
// the command's side effects are visible. The handle is signalled even if
// the command panics; the panic is then propagated.
func (inv *Invocation) Execute() {
	defer func() {
		if inv.handle != nil {
			inv.handle.SignalDone()
		}
	}()
	inv.Command.Run()
}

// abandon wakes a blocked waiter for an invocation that will never run.
func (inv *Invocation) abandon() {
	if inv.handle != nil {
		inv.handle.Abandon()
	}
}

// Pending is a read-only view of a registered invocation.
type Pending struct {
	ID            uint64     `json:"id"`
	Command       Descriptor `json:"command"`
	RegisteredAt  time.Time  `json:"registered_at"`
	HasCompletion bool       `json:"has_completion"`
	Orphaned      bool       `json:"orphaned"`
}

// Registry hands boxed commands from producer goroutines to the dispatch
// goroutine, exactly once each.
//
// Ids come from a monotonic counter starting at 1 and are never reused.
// All state sits behind one mutex; commands never run while it is held.
type Registry struct {
	mu       sync.Mutex
	pending  map[uint64]*Invocation
	orphaned map[uint64]struct{}
	ids      *core.Sequence
	clock    core.Clock
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used to stamp registrations.
func WithClock(c core.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = c
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		pending:  make(map[uint64]*Invocation),
		orphaned: make(map[uint64]struct{}),
		ids:      core.NewSequence(),
		clock:    core.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores cmd under a fresh id and returns the id.
// If h is non-nil it is signalled after the command runs.
func (r *Registry) Register(cmd Command, h *completion.Handle) uint64 {
	inv := &Invocation{
		ID:           r.ids.Next(),
		Command:      cmd,
		RegisteredAt: r.clock.Now(),
		handle:       h,
	}

	r.mu.Lock()
	r.pending[inv.ID] = inv
	r.mu.Unlock()

	return inv.ID
}

// Take removes and returns the invocation registered under id.
// Returns false if id was never registered or has already been taken.
// When several goroutines race on one id, exactly one wins.
func (r *Registry) Take(id uint64) (*Invocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	delete(r.orphaned, id)
	return inv, true
}

// PendingCount returns the number of invocations not yet taken.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Clear drops every pending invocation without executing it and returns how
// many were dropped. Blocked waiters are woken and observe "not done".
// Intended for teardown.
func (r *Registry) Clear() int {
	r.mu.Lock()
	dropped := r.pending
	r.pending = make(map[uint64]*Invocation)
	r.orphaned = make(map[uint64]struct{})
	r.mu.Unlock()

	for _, inv := range dropped {
		inv.abandon()
	}
	return len(dropped)
}

// MarkOrphaned flags a pending invocation whose ready event could not be
// posted. Returns false if id is not pending.
func (r *Registry) MarkOrphaned(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; !ok {
		return false
	}
	r.orphaned[id] = struct{}{}
	return true
}

// OrphanedIDs returns the ids currently flagged orphaned, ascending.
func (r *Registry) OrphanedIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.orphaned))
	for id := range r.orphaned {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// PendingIDs returns the ids of every pending invocation, ascending.
func (r *Registry) PendingIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Snapshot describes every pending invocation, ordered by id.
func (r *Registry) Snapshot() []Pending {
	r.mu.Lock()
	out := make([]Pending, 0, len(r.pending))
	for id, inv := range r.pending {
		_, orphaned := r.orphaned[id]
		out = append(out, Pending{
			ID:            id,
			Command:       inv.Command.Describe(),
			RegisteredAt:  inv.RegisteredAt,
			HasCompletion: inv.handle != nil,
			Orphaned:      orphaned,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Discard removes the given ids without executing them, waking any blocked
// waiters, and returns views of what was removed. Unknown ids are skipped.
func (r *Registry) Discard(ids []uint64) []Pending {
	r.mu.Lock()
	removed := make([]*Invocation, 0, len(ids))
	views := make([]Pending, 0, len(ids))
	for _, id := range ids {
		inv, ok := r.pending[id]
		if !ok {
			continue
		}
		_, orphaned := r.orphaned[id]
		delete(r.pending, id)
		delete(r.orphaned, id)
		removed = append(removed, inv)
		views = append(views, Pending{
			ID:            id,
			Command:       inv.Command.Describe(),
			RegisteredAt:  inv.RegisteredAt,
			HasCompletion: inv.handle != nil,
			Orphaned:      orphaned,
		})
	}
	r.mu.Unlock()

	for _, inv := range removed {
		inv.abandon()
	}
	return views
}

// LastID returns the most recently issued id, or 0.
func (r *Registry) LastID() uint64 {
	return r.ids.Current()
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
