// Package completion provides a one-shot completion signal used to let one
// goroutine block until another has finished a unit of work.
//
// A Handle and a Waiter are always created together by NewPair and share one
// state. The Handle performs the single done transition; the Waiter observes
// it any number of times. This is the only place in the dispatch core that
// blocks on another goroutine.
package completion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAbandoned is returned by WaitContext when the handle was abandoned.
var ErrAbandoned = errors.New("completion: abandoned before done")

type state struct {
	done atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// Handle signals completion. Only the first SignalDone or Abandon has an effect.
type Handle struct {
	st *state
}

// Waiter blocks until the paired Handle signals.
type Waiter struct {
	st *state
}

// NewPair allocates shared completion state and returns its handle and waiter.
func NewPair() (*Handle, *Waiter) {
	st := &state{ch: make(chan struct{})}
	return &Handle{st: st}, &Waiter{st: st}
}

// SignalDone marks the pair complete and wakes every waiter.
// Safe to call from any goroutine. Calls after the first are no-ops.
func (h *Handle) SignalDone() {
	h.st.once.Do(func() {
		h.st.done.Store(true)
		close(h.st.ch)
	})
}

// Abandon wakes every waiter without marking the pair complete.
// Used when the work will never run (for example, a discarded invocation).
// Waiters then observe false from Wait and WaitTimeout.
func (h *Handle) Abandon() {
	h.st.once.Do(func() {
		close(h.st.ch)
	})
}

// IsDone reports whether the pair has completed.
func (w *Waiter) IsDone() bool {
	return w.st.done.Load()
}

// Wait blocks until the pair completes or is abandoned.
// Returns whether completion was observed.
func (w *Waiter) Wait() bool {
	if w.st.done.Load() {
		return true
	}
	<-w.st.ch
	return w.st.done.Load()
}

// WaitTimeout blocks until the pair completes or d elapses.
// Returns whether completion was observed.
func (w *Waiter) WaitTimeout(d time.Duration) bool {
	if w.st.done.Load() {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-w.st.ch:
	case <-t.C:
	}

	// Completion may race the deadline; the flag decides.
	return w.st.done.Load()
}

// WaitContext blocks until the pair completes or ctx is done.
func (w *Waiter) WaitContext(ctx context.Context) error {
	if w.st.done.Load() {
		return nil
	}

	select {
	case <-w.st.ch:
		if !w.st.done.Load() {
			return ErrAbandoned
		}
		return nil
	case <-ctx.Done():
		if w.st.done.Load() {
			return nil
		}
		return ctx.Err()
	}
}

// Done returns a channel closed on completion or abandonment, for use in select.
func (w *Waiter) Done() <-chan struct{} {
	return w.st.ch
}
