package event

import (
	"container/heap"
	"sync"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// Entry is a queued event with its derived priority and arrival sequence.
type Entry struct {
	Event    Event
	Priority Priority
	Seq      uint64
}

// before reports whether e dispatches ahead of other:
// higher priority first, then lower sequence number.
func (e Entry) before(other Entry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	return e.Seq < other.Seq
}

type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	// Drop payload references held by the backing array.
	old[n-1] = Entry{}
	*h = old[:n-1]
	return e
}

// Queue is the prioritized event queue feeding the dispatch loop.
//
// Many goroutines may Enqueue concurrently; the dispatch goroutine drains
// with TryDequeue and parks on Wait when the queue is empty. Equal-priority
// events leave in the order they arrived because every entry carries a
// sequence number from one shared counter.
type Queue struct {
	mu      sync.Mutex
	entries entryHeap
	seq     *core.Sequence
	closed  bool
	signal  chan struct{} // Signals event availability (buffered, size 1)
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make(entryHeap, 0, 64),
		seq:     core.NewSequence(),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an event. Safe to call from any goroutine.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	heap.Push(&q.entries, Entry{
		Event:    ev,
		Priority: ev.Priority(),
		Seq:      q.seq.Next(),
	})

	// Non-blocking: the buffer of 1 coalesces wakeups.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the highest-priority, oldest event without blocking.
// Returns false if the queue is empty.
func (q *Queue) TryDequeue() (Event, bool) {
	e, ok := q.TryDequeueEntry()
	return e.Event, ok
}

// TryDequeueEntry is TryDequeue returning the full entry.
func (q *Queue) TryDequeueEntry() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return heap.Pop(&q.entries).(Entry), true
}

// Peek returns the entry TryDequeue would return next, without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed by Close.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // TryDequeue
//	}
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and wakes any waiter.
// Events already queued remain dequeueable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
