// Package task implements the deferred task queue: a FIFO of idle-time
// callables processed in bounded batches by the dispatch loop.
package task

import (
	"log/slog"
	"sync"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// DefaultBatchSize is the number of tasks ProcessBatch runs by default.
const DefaultBatchSize = 10

// ID identifies a posted task. Ids start at 1 and are never reused.
type ID uint64

type entry struct {
	id ID
	fn func()
}

// Queue is a strict FIFO of deferred tasks.
//
// Post and Cancel are safe from any goroutine. Tasks run on whichever
// goroutine calls ProcessBatch or ProcessAll, in post order, after the queue
// lock has been released. A task may post further tasks; they join the back
// of the queue.
type Queue struct {
	mu        sync.Mutex
	entries   []entry
	batchSize int
	ids       *core.Sequence
}

// NewQueue creates an empty queue with DefaultBatchSize.
func NewQueue() *Queue {
	return NewQueueWithBatchSize(DefaultBatchSize)
}

// NewQueueWithBatchSize creates an empty queue running n tasks per batch.
// Values below 1 are treated as 1.
func NewQueueWithBatchSize(n int) *Queue {
	if n < 1 {
		n = 1
	}
	return &Queue{
		batchSize: n,
		ids:       core.NewSequence(),
	}
}

// Post appends fn and returns its id. Queue order and id order agree.
func (q *Queue) Post(fn func()) ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := ID(q.ids.Next())
	q.entries = append(q.entries, entry{id: id, fn: fn})
	return id
}

// Cancel removes a task that has not run yet.
// Returns false if id is unknown, already ran, or was already cancelled.
func (q *Queue) Cancel(id ID) bool {
	_, ok := q.Take(id)
	return ok
}

// Take removes a pending task and returns it without running it.
func (q *Queue) Take(id ID) (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.id == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e.fn, true
		}
	}
	return nil, false
}

// ProcessBatch runs up to the batch size of tasks and returns how many ran.
func (q *Queue) ProcessBatch() int {
	q.mu.Lock()
	n := min(q.batchSize, len(q.entries))
	batch := q.popFront(n)
	q.mu.Unlock()

	return run(batch)
}

// ProcessAll runs every queued task, including tasks posted while draining,
// and returns how many ran.
func (q *Queue) ProcessAll() int {
	total := 0
	for {
		q.mu.Lock()
		batch := q.popFront(len(q.entries))
		q.mu.Unlock()

		if len(batch) == 0 {
			return total
		}
		total += run(batch)
	}
}

// SetBatchSize changes the batch size. Values below 1 are treated as 1.
func (q *Queue) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.batchSize = n
	q.mu.Unlock()
}

// BatchSize returns the current batch size.
func (q *Queue) BatchSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batchSize
}

// PendingCount returns the number of queued tasks.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// HasPending reports whether any task is queued.
func (q *Queue) HasPending() bool {
	return q.PendingCount() > 0
}

// popFront removes the first n entries. Caller holds q.mu.
func (q *Queue) popFront(n int) []entry {
	if n == 0 {
		return nil
	}
	batch := make([]entry, n)
	copy(batch, q.entries[:n])

	// Clear moved slots so the backing array drops the closures.
	clear(q.entries[:n])
	if n == len(q.entries) {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[n:]
	}
	return batch
}

func run(batch []entry) int {
	for _, e := range batch {
		runGuarded(e)
	}
	return len(batch)
}

// runGuarded logs a panicking task so the rest of the batch still runs.
func runGuarded(e entry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("deferred task panicked", "task_id", e.id, "panic", r)
		}
	}()
	e.fn()
}
