package core

import (
	"container/heap"
	"time"
)

// Due is one scheduled entry: a key and the instant it becomes due.
type Due struct {
	Key Key
	At  time.Time

	seq uint64
}

// dueHeap is a min-heap by At; entries due at the same instant keep push order.
type dueHeap []Due

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if !h[i].At.Equal(h[j].At) {
		return h[i].At.Before(h[j].At)
	}
	return h[i].seq < h[j].seq
}

func (h dueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *dueHeap) Push(x any) { *h = append(*h, x.(Due)) }

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

// DueQueue orders keys by due time for the timer manager and scheduler.
//
// Entries are never removed from the middle. Owners cancel by invalidating
// the key in their own table and let PruneHead or Pop discard the stale entry
// when it reaches the head. DueQueue is not safe for concurrent use.
type DueQueue struct {
	h   dueHeap
	seq uint64
}

// NewDueQueue creates an empty queue.
func NewDueQueue() *DueQueue {
	return &DueQueue{h: make(dueHeap, 0, 16)}
}

// Push schedules k at at.
func (q *DueQueue) Push(k Key, at time.Time) {
	q.seq++
	heap.Push(&q.h, Due{Key: k, At: at, seq: q.seq})
}

// Peek returns the earliest entry without removing it.
func (q *DueQueue) Peek() (Due, bool) {
	if len(q.h) == 0 {
		return Due{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the earliest entry.
func (q *DueQueue) Pop() (Due, bool) {
	if len(q.h) == 0 {
		return Due{}, false
	}
	return heap.Pop(&q.h).(Due), true
}

// PruneHead discards entries from the head while live reports them stale.
// Returns the number discarded.
func (q *DueQueue) PruneHead(live func(Due) bool) int {
	n := 0
	for len(q.h) > 0 && !live(q.h[0]) {
		heap.Pop(&q.h)
		n++
	}
	return n
}

// Len returns the number of entries, stale ones included.
func (q *DueQueue) Len() int {
	return len(q.h)
}

// Reset drops every entry.
func (q *DueQueue) Reset() {
	q.h = q.h[:0]
}
