package core

import "sync/atomic"

// Sequence is a monotonic counter handing out unique, strictly increasing ids.
//
// The first call to Next returns 1, so 0 is never a valid id. Sequence is
// safe for concurrent use; concurrent callers each receive a distinct value.
type Sequence struct {
	n atomic.Uint64
}

// NewSequence creates a sequence whose first Next returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence whose first Next returns start+1.
func NewSequenceAt(start uint64) *Sequence {
	s := &Sequence{}
	s.n.Store(start)
	return s
}

// Next returns the next value.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last value handed out without advancing.
func (s *Sequence) Current() uint64 {
	return s.n.Load()
}
