package signal

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/completion"
	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/thread"
)

// blockingSelfWait is the panic message for a Blocking emission from the
// dispatch goroutine.
const blockingSelfWait = "signal: Blocking emit from the dispatch goroutine would deadlock; use Auto or Direct"

// Dispatcher is the event loop a signal defers queued calls to.
// dispatch.Application implements it.
type Dispatcher interface {
	Invocations() *invocation.Registry
	PostEvent(ev event.Event) error
	DispatchThread() thread.ID
}

// Emitter is the type-erased view of a Signal.
type Emitter interface {
	Name() string
	Disconnect(id ConnectionID) error
	DisconnectAll()
	ConnectionCount() int
	IsBlocked() bool
	SetBlocked(blocked bool)
	Close()
}

var _ Emitter = (*Signal[int])(nil)

// Signal delivers payloads of type T to connected slots.
//
// Connections are kept in registration order and emissions visit them in
// that order. Slots never run while the connection lock is held, so a slot
// may connect, disconnect or emit on the same signal.
type Signal[T any] struct {
	name       string
	dispatcher Dispatcher

	mu    sync.Mutex
	conns *core.SlotMap[connection[T]]
	order []ConnectionID

	blocked atomic.Bool
	closed  atomic.Bool
}

// New creates a signal. d receives queued and blocking calls; a nil d runs
// them inline on the emitter with a warning.
func New[T any](name string, d Dispatcher) *Signal[T] {
	return &Signal[T]{
		name:       name,
		dispatcher: d,
		conns:      core.NewSlotMap[connection[T]](),
	}
}

// Name returns the signal name used in descriptors and logs.
func (s *Signal[T]) Name() string {
	return s.name
}

// Connect registers slot and returns its connection id. Nothing runs.
// Connecting to a closed signal returns the zero id.
func (s *Signal[T]) Connect(slot func(T), typ ConnectionType, opts ...ConnectOption) ConnectionID {
	cfg := connectConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasTarget {
		cfg.target = thread.Current()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ConnectionID{}
	}

	id := s.conns.Insert(connection[T]{
		slot:    slot,
		typ:     typ,
		target:  cfg.target,
		timeout: cfg.timeout,
		enabled: true,
	})
	s.order = append(s.order, id)
	return id
}

// Disconnect removes a connection. Queued calls already emitted through it
// still run. Returns core.ErrInvalidConnection if id is unknown.
func (s *Signal[T]) Disconnect(id ConnectionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns.Remove(id); !ok {
		return core.ErrInvalidConnection
	}
	for i, k := range s.order {
		if k == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// DisconnectAll removes every connection.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns.Clear()
	s.order = nil
}

// ConnectionCount returns the number of connections.
func (s *Signal[T]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Len()
}

// IsConnected reports whether id names a live connection.
func (s *Signal[T]) IsConnected(id ConnectionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns.Contains(id)
}

// SetEnabled includes or skips one connection on future emissions.
func (s *Signal[T]) SetEnabled(id ConnectionID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns.Get(id)
	if !ok {
		return core.ErrInvalidConnection
	}
	c.enabled = enabled
	return nil
}

// SetBlocked suppresses or restores emission. A blocked Emit does nothing.
func (s *Signal[T]) SetBlocked(blocked bool) {
	s.blocked.Store(blocked)
}

// IsBlocked reports whether emission is suppressed.
func (s *Signal[T]) IsBlocked() bool {
	return s.blocked.Load()
}

// Close drops the signal. Connections are removed and later emissions
// return core.ErrSignalDropped.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed.Store(true)
	s.conns.Clear()
	s.order = nil
}

// Emit delivers payload to every enabled connection in registration order.
//
// Direct slots, and Auto slots whose target is the calling goroutine, run
// before Emit returns. Queued slots are registered with the dispatcher and
// run later on the dispatch goroutine. Blocking slots are registered the same
// way; Emit then waits for each of them after all connections were visited.
//
// A connection whose ready event cannot be posted yields a QUEUE_FAILED
// error; its invocation stays registered, marked orphaned. The remaining
// connections are still visited.
func (s *Signal[T]) Emit(payload T) error {
	if s.closed.Load() {
		return core.ErrSignalDropped
	}
	if s.blocked.Load() {
		return nil
	}

	snapshot := s.snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	caller := thread.Current()
	var (
		errs    []error
		waiters []pendingWait
	)
	for _, c := range snapshot {
		switch c.resolve(caller) {
		case Direct:
			c.conn.slot(payload)
		case Queued:
			if err := s.queue(c, payload, nil); err != nil {
				errs = append(errs, err)
			}
		case Blocking:
			s.checkNotDispatchThread(caller)
			h, w := completion.NewPair()
			if err := s.queue(c, payload, h); err != nil {
				errs = append(errs, err)
				continue
			}
			waiters = append(waiters, pendingWait{id: c.id, waiter: w, timeout: c.conn.timeout})
		}
	}

	for _, pw := range waiters {
		s.wait(pw)
	}
	return errors.Join(errs...)
}

// EmitQueued defers every enabled connection to the dispatch goroutine,
// regardless of its type, and returns how many were queued. Nothing waits.
func (s *Signal[T]) EmitQueued(payload T) (int, error) {
	if s.closed.Load() {
		return 0, core.ErrSignalDropped
	}
	if s.blocked.Load() {
		return 0, nil
	}

	var errs []error
	n := 0
	for _, c := range s.snapshot() {
		if err := s.queue(c, payload, nil); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

type boundConnection[T any] struct {
	id   ConnectionID
	conn connection[T]
}

// resolve maps Auto to Direct or Queued for the given caller.
func (c boundConnection[T]) resolve(caller thread.ID) ConnectionType {
	if c.conn.typ != Auto {
		return c.conn.typ
	}
	if c.conn.target == caller {
		return Direct
	}
	return Queued
}

type pendingWait struct {
	id      ConnectionID
	waiter  *completion.Waiter
	timeout time.Duration
}

// snapshot copies the enabled connections so slots run without s.mu.
func (s *Signal[T]) snapshot() []boundConnection[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]boundConnection[T], 0, len(s.order))
	for _, id := range s.order {
		c, ok := s.conns.Get(id)
		if !ok || !c.enabled {
			continue
		}
		out = append(out, boundConnection[T]{id: id, conn: *c})
	}
	return out
}

// queue registers one slot call and announces it to the dispatcher.
func (s *Signal[T]) queue(c boundConnection[T], payload T, h *completion.Handle) error {
	slot := c.conn.slot
	cmd := invocation.InvokeSlot{
		Signal:     s.name,
		Connection: c.id,
		Payload:    payload,
		Call:       func() { slot(payload) },
	}

	if s.dispatcher == nil {
		slog.Warn("no dispatcher for queued signal, running inline",
			"signal", s.name,
			"connection", c.id.String())
		cmd.Run()
		if h != nil {
			h.SignalDone()
		}
		return nil
	}

	reg := s.dispatcher.Invocations()
	id := reg.Register(cmd, h)
	if err := s.dispatcher.PostEvent(event.QueuedInvocationReady(id)); err != nil {
		reg.MarkOrphaned(id)
		slog.Warn("queued invocation orphaned",
			"signal", s.name,
			"connection", c.id.String(),
			"invocation_id", id,
			"error", err)
		return core.NewQueueFailed(id, err)
	}
	return nil
}

func (s *Signal[T]) checkNotDispatchThread(caller thread.ID) {
	if s.dispatcher == nil {
		return
	}
	if d := s.dispatcher.DispatchThread(); d != thread.None && d == caller {
		panic(blockingSelfWait)
	}
}

func (s *Signal[T]) wait(pw pendingWait) {
	if pw.timeout > 0 {
		if !pw.waiter.WaitTimeout(pw.timeout) {
			slog.Warn("blocking slot did not finish in time",
				"signal", s.name,
				"connection", pw.id.String(),
				"timeout", pw.timeout)
		}
		return
	}
	if !pw.waiter.Wait() {
		slog.Warn("blocking slot abandoned before it ran",
			"signal", s.name,
			"connection", pw.id.String())
	}
}
