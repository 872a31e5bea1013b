// Package scheduler runs callables at a future instant, once or on a fixed
// interval. The dispatch loop polls it every iteration with ProcessReady.
//
// Design:
//   - Tasks live in a generation-safe slot table keyed by ID.
//   - A min-heap of (id, run time) answers "what runs next" in O(1).
//   - Cancel and Reschedule never touch the heap. An entry whose run time no
//     longer matches the task's next run is stale and is dropped when popped.
//   - Repeating tasks advance from their scheduled run time, not from the
//     time they actually ran, so a late poll does not accumulate drift.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// ID identifies a scheduled task.
type ID = core.Key

// Kind distinguishes one-shot from repeating tasks.
type Kind int

const (
	OneShot Kind = iota
	Repeating
)

// String returns the kind name.
func (k Kind) String() string {
	if k == Repeating {
		return "Repeating"
	}
	return "OneShot"
}

// MinInterval is the shortest period of a repeating task. Shorter
// intervals, including zero, are raised to it.
const MinInterval = time.Millisecond

type taskData struct {
	nextRun  time.Time
	interval time.Duration
	kind     Kind
	fn       func()
}

// Scheduler holds time-based tasks. All methods are safe for concurrent use.
// Callables run on the goroutine calling ProcessReady, outside the lock, so a
// callable may schedule or cancel other tasks.
type Scheduler struct {
	mu    sync.Mutex
	tasks *core.SlotMap[taskData]
	queue *core.DueQueue
	clock core.Clock
}

// New creates a scheduler reading time from clock. A nil clock uses the
// system clock.
func New(clock core.Clock) *Scheduler {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Scheduler{
		tasks: core.NewSlotMap[taskData](),
		queue: core.NewDueQueue(),
		clock: clock,
	}
}

// ScheduleOnce runs fn once, delay from now.
func (s *Scheduler) ScheduleOnce(delay time.Duration, fn func()) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(s.clock.Now().Add(delay), delay, OneShot, fn)
}

// ScheduleAt runs fn once at t. A past t runs on the next ProcessReady.
func (s *Scheduler) ScheduleAt(t time.Time, fn func()) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(t, 0, OneShot, fn)
}

// ScheduleRepeating runs fn every interval, first after one interval.
func (s *Scheduler) ScheduleRepeating(interval time.Duration, fn func()) ID {
	return s.ScheduleRepeatingWithDelay(interval, interval, fn)
}

// ScheduleRepeatingWithDelay runs fn first after initial, then every interval.
// The interval is at least MinInterval.
func (s *Scheduler) ScheduleRepeatingWithDelay(initial, interval time.Duration, fn func()) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(s.clock.Now().Add(initial), max(interval, MinInterval), Repeating, fn)
}

func (s *Scheduler) insert(at time.Time, interval time.Duration, kind Kind, fn func()) ID {
	id := s.tasks.Insert(taskData{
		nextRun:  at,
		interval: interval,
		kind:     kind,
		fn:       fn,
	})
	s.queue.Push(id, at)
	return id
}

// Cancel removes a task. Returns core.ErrInvalidTaskID if it does not exist.
func (s *Scheduler) Cancel(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks.Remove(id); !ok {
		return core.ErrInvalidTaskID
	}
	return nil
}

// Reschedule moves a task's next run to delay from now. The task keeps its
// kind and interval. Returns core.ErrInvalidTaskID if it does not exist.
func (s *Scheduler) Reschedule(id ID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks.Get(id)
	if !ok {
		return core.ErrInvalidTaskID
	}
	t.nextRun = s.clock.Now().Add(delay)
	s.queue.Push(id, t.nextRun)
	return nil
}

// IsActive reports whether id names a task that will still run.
func (s *Scheduler) IsActive(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Contains(id)
}

// Kind returns the kind of an active task.
func (s *Scheduler) Kind(id ID) (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks.Get(id)
	if !ok {
		return 0, false
	}
	return t.kind, true
}

// ActiveCount returns the number of active tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// TimeUntilNext returns how long until the next task is due, zero if one is
// overdue, and false if nothing is scheduled.
func (s *Scheduler) TimeUntilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.PruneHead(s.live)
	head, ok := s.queue.Peek()
	if !ok {
		return 0, false
	}
	return core.Until(s.clock, head.At), true
}

// HasReady reports whether a task is due now.
func (s *Scheduler) HasReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.PruneHead(s.live)
	head, ok := s.queue.Peek()
	return ok && !head.At.After(s.clock.Now())
}

// ProcessReady runs every task due at the current instant, in run-time order,
// and returns how many ran. Each repeating task runs at most once per call
// even when it is several intervals behind.
func (s *Scheduler) ProcessReady() int {
	s.mu.Lock()
	now := s.clock.Now()

	var (
		ready  []func()
		rearms []core.Due
	)
	for {
		head, ok := s.queue.Peek()
		if !ok || head.At.After(now) {
			break
		}
		s.queue.Pop()

		if !s.live(head) {
			continue
		}
		t, _ := s.tasks.Get(head.Key)
		ready = append(ready, t.fn)

		switch t.kind {
		case OneShot:
			s.tasks.Remove(head.Key)
		case Repeating:
			t.nextRun = head.At.Add(t.interval)
			rearms = append(rearms, core.Due{Key: head.Key, At: t.nextRun})
		}
	}
	// Re-push after the scan so a catching-up task cannot run twice here.
	for _, d := range rearms {
		s.queue.Push(d.Key, d.At)
	}
	s.mu.Unlock()

	for _, fn := range ready {
		runGuarded(fn)
	}
	return len(ready)
}

// Clear drops every task.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Clear()
	s.queue.Reset()
}

// live reports whether a heap entry still matches its task. Caller holds s.mu.
func (s *Scheduler) live(d core.Due) bool {
	t, ok := s.tasks.Get(d.Key)
	return ok && t.nextRun.Equal(d.At)
}

// runGuarded logs a panicking callable so the rest of the batch still runs.
func runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled task panicked", "panic", r)
		}
	}()
	fn()
}
