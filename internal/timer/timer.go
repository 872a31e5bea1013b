// Package timer tracks one-shot and repeating timers for the dispatch loop.
//
// Timers live in a generation-safe slot table. A parallel min-heap of
// (timer, fire time) pairs answers "what fires next". Stopping a timer only
// removes it from the table; its heap entry goes stale and is discarded when
// it reaches the head.
package timer

import (
	"sync"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
)

// ID identifies a timer. Stale ids never alias a newer timer.
type ID = core.Key

// Kind distinguishes one-shot from repeating timers.
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

// MinInterval is the shortest period of a repeating timer. Shorter
// intervals, including zero, are raised to it.
const MinInterval = time.Millisecond

type timerData struct {
	nextFire time.Time
	interval time.Duration
	kind     Kind
	active   bool
}

// Manager owns every timer of one dispatch loop.
// All methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	timers *core.SlotMap[timerData]
	queue  *core.DueQueue
	clock  core.Clock
}

// NewManager creates a timer manager reading time from clock.
// A nil clock uses the system clock.
func NewManager(clock core.Clock) *Manager {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Manager{
		timers: core.NewSlotMap[timerData](),
		queue:  core.NewDueQueue(),
		clock:  clock,
	}
}

// StartOneShot starts a timer that fires once, d from now.
func (m *Manager) StartOneShot(d time.Duration) ID {
	return m.start(d, OneShot)
}

// StartRepeating starts a timer that fires every interval, first after one
// interval. The interval is at least MinInterval.
func (m *Manager) StartRepeating(interval time.Duration) ID {
	return m.start(max(interval, MinInterval), Repeating)
}

func (m *Manager) start(d time.Duration, kind Kind) ID {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.clock.Now().Add(d)
	id := m.timers.Insert(timerData{
		nextFire: next,
		interval: d,
		kind:     kind,
		active:   true,
	})
	m.queue.Push(id, next)
	return id
}

// Stop removes a timer. Returns core.ErrInvalidTimerID if id is unknown or
// already removed (including a one-shot timer that has fired).
func (m *Manager) Stop(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.timers.Remove(id); !ok {
		return core.ErrInvalidTimerID
	}
	return nil
}

// IsActive reports whether id names a live timer.
func (m *Manager) IsActive(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers.Get(id)
	return ok && t.active
}

// Kind returns the kind of a live timer.
func (m *Manager) Kind(id ID) (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers.Get(id)
	if !ok {
		return OneShot, false
	}
	return t.kind, true
}

// ActiveCount returns the number of live timers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers.Len()
}

// TimeUntilNext returns how long until the next live timer fires.
// Returns false when no timers are active. Stale heap heads are pruned first.
func (m *Manager) TimeUntilNext() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue.PruneHead(m.live)
	head, ok := m.queue.Peek()
	if !ok {
		return 0, false
	}
	return core.Until(m.clock, head.At), true
}

// ProcessExpired fires every timer due at or before now, in fire-time order,
// and returns one TimerFired event per firing. One-shot timers are removed;
// repeating timers are rescheduled to now+interval. A repeating timer fires
// at most once per call.
func (m *Manager) ProcessExpired() []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var events []event.Event
	var rearm []ID

	for {
		head, ok := m.queue.Peek()
		if !ok || head.At.After(now) {
			break
		}
		m.queue.Pop()

		if !m.live(head) {
			continue
		}

		t, _ := m.timers.Get(head.Key)
		events = append(events, event.TimerFired(head.Key))

		switch t.kind {
		case OneShot:
			t.active = false
			m.timers.Remove(head.Key)
		case Repeating:
			t.nextFire = now.Add(t.interval)
			rearm = append(rearm, head.Key)
		}
	}

	for _, id := range rearm {
		t, _ := m.timers.Get(id)
		m.queue.Push(id, t.nextFire)
	}

	return events
}

// Clear removes every timer.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timers.Clear()
	m.queue.Reset()
}

// live reports whether a heap entry still matches an active timer's schedule.
// Caller holds m.mu.
func (m *Manager) live(d core.Due) bool {
	t, ok := m.timers.Get(d.Key)
	return ok && t.active && t.nextFire.Equal(d.At)
}
