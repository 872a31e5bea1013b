package threadpool

import (
	"fmt"
	"log/slog"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
)

// Spawn runs fn on a worker and returns a handle to its result.
// Returns SUBMISSION_FAILED after Shutdown.
func Spawn[T any](p *Pool, fn func() T) (*TaskHandle[T], error) {
	return spawn(p, nil, fn)
}

// SpawnCancellable runs fn on a worker with a fresh cancellation token.
// fn should return early once the token is cancelled; its result is then
// discarded and Wait reports TASK_CANCELLED.
func SpawnCancellable[T any](p *Pool, fn func(tok *CancellationToken) T) (*TaskHandle[T], error) {
	tok := NewCancellationToken()
	return spawn(p, tok, func() T { return fn(tok) })
}

func spawn[T any](p *Pool, tok *CancellationToken, fn func() T) (*TaskHandle[T], error) {
	h := newTaskHandle[T](tok)
	ready := make(chan struct{})
	id, err := p.submit(func(uint64) {
		<-ready
		h.complete(fn)
	})
	if err != nil {
		return nil, err
	}
	h.id = id
	close(ready)
	return h, nil
}

// SpawnWithCallback runs fn on a worker and then runs cb with its result on
// the dispatch goroutine of d.
//
// The callback travels as an invocation.Callback through d's invocation
// registry. If the ready event cannot be posted the callback stays
// registered, marked orphaned, and the failure is logged.
func SpawnWithCallback[T any](p *Pool, d Dispatcher, fn func() T, cb func(T)) (uint64, error) {
	return p.submit(func(id uint64) {
		v := fn()
		reg := d.Invocations()
		invID := reg.Register(invocation.Callback{
			Source: p.Name(),
			TaskID: id,
			Call:   func() { cb(v) },
		}, nil)

		if err := d.PostEvent(event.QueuedInvocationReady(invID)); err != nil {
			reg.MarkOrphaned(invID)
			slog.Warn("pool callback orphaned",
				"pool", p.Name(),
				"task_id", id,
				"invocation_id", invID,
				"error", core.NewQueueFailed(invID, err))
		}
	})
}

// Execute runs fn on a worker and blocks until it returns.
func Execute[T any](p *Pool, fn func() T) (T, error) {
	h, err := Spawn(p, fn)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("execute: %w", err)
	}
	return h.Wait()
}
