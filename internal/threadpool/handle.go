package threadpool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/completion"
	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// CancellationToken requests cooperative cancellation of a task.
// Tasks poll IsCancelled or select on Done.
type CancellationToken struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCancellationToken creates an uncancelled token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel requests cancellation. Later calls do nothing.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// IsCancelled reports whether Cancel was called.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}

// Done is closed by Cancel.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// TaskHandle is the caller's view of one spawned task.
type TaskHandle[T any] struct {
	id     uint64
	token  *CancellationToken
	handle *completion.Handle
	waiter *completion.Waiter

	// Written once by the worker before handle.SignalDone.
	result T
	err    error
}

func newTaskHandle[T any](token *CancellationToken) *TaskHandle[T] {
	h, w := completion.NewPair()
	return &TaskHandle[T]{token: token, handle: h, waiter: w}
}

// ID returns the pool-assigned task id.
func (h *TaskHandle[T]) ID() uint64 {
	return h.id
}

// IsFinished reports whether the task produced a result or failed.
func (h *TaskHandle[T]) IsFinished() bool {
	return h.waiter.IsDone()
}

// TryGet returns the result if the task finished successfully.
func (h *TaskHandle[T]) TryGet() (T, bool) {
	if !h.waiter.IsDone() || h.err != nil {
		var zero T
		return zero, false
	}
	return h.result, true
}

// Wait blocks until the task finishes. The error is TASK_CANCELLED when the
// task was cancelled before producing a result, or describes a panic.
func (h *TaskHandle[T]) Wait() (T, error) {
	h.waiter.Wait()
	return h.result, h.err
}

// WaitTimeout is Wait bounded by d. Returns false if d elapsed first or the
// task failed.
func (h *TaskHandle[T]) WaitTimeout(d time.Duration) (T, bool) {
	if !h.waiter.WaitTimeout(d) || h.err != nil {
		var zero T
		return zero, false
	}
	return h.result, true
}

// Cancel cancels the task's token. Tasks spawned without a token are not
// affected. A task still waiting for a worker is skipped.
func (h *TaskHandle[T]) Cancel() {
	if h.token != nil {
		h.token.Cancel()
	}
}

// Token returns the task's cancellation token, or nil.
func (h *TaskHandle[T]) Token() *CancellationToken {
	return h.token
}

// complete runs fn and publishes its outcome. Called on a worker.
func (h *TaskHandle[T]) complete(fn func() T) {
	defer h.handle.SignalDone()

	if h.cancelled() {
		h.err = core.ErrTaskCancelled
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.err = fmt.Errorf("threadpool: task %d panicked: %v", h.id, r)
		}
	}()

	h.result = fn()
	if h.cancelled() {
		var zero T
		h.result = zero
		h.err = core.ErrTaskCancelled
	}
}

func (h *TaskHandle[T]) cancelled() bool {
	return h.token != nil && h.token.IsCancelled()
}
