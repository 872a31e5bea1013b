package core

import "fmt"

// Key is a generation-safe handle into a SlotMap.
//
// A Key names an arena slot and the generation that slot had when the value
// was inserted. Removing a value bumps the slot's generation, so every Key
// issued for the old value stops resolving even after the slot is reused.
// The zero Key never resolves.
type Key struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Generation == 0
}

// String renders the key as index:generation.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Index, k.Generation)
}

type slot[V any] struct {
	value    V
	gen      uint32
	occupied bool
}

// SlotMap is an arena of values addressed by generation-safe Keys.
//
// SlotMap is not safe for concurrent use; owners guard it with their own mutex.
type SlotMap[V any] struct {
	slots []slot[V]
	free  []uint32
	len   int
}

// NewSlotMap creates an empty SlotMap.
func NewSlotMap[V any]() *SlotMap[V] {
	return &SlotMap[V]{}
}

// Insert stores v and returns its key.
func (m *SlotMap[V]) Insert(v V) Key {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.slots = append(m.slots, slot[V]{gen: 1})
		idx = uint32(len(m.slots) - 1)
	}

	s := &m.slots[idx]
	s.value = v
	s.occupied = true
	m.len++

	return Key{Index: idx, Generation: s.gen}
}

// Get returns a pointer to the value stored under k.
// The pointer is valid until the next Insert or Remove.
func (m *SlotMap[V]) Get(k Key) (*V, bool) {
	s := m.lookup(k)
	if s == nil {
		return nil, false
	}
	return &s.value, true
}

// Contains reports whether k resolves to a live value.
func (m *SlotMap[V]) Contains(k Key) bool {
	return m.lookup(k) != nil
}

// Remove deletes the value under k and returns it.
// Returns false if k is stale or was never issued.
func (m *SlotMap[V]) Remove(k Key) (V, bool) {
	s := m.lookup(k)
	if s == nil {
		var zero V
		return zero, false
	}
	v := s.value
	m.release(k.Index)
	return v, true
}

// Len returns the number of live values.
func (m *SlotMap[V]) Len() int {
	return m.len
}

// Clear removes every value, invalidating all outstanding keys.
func (m *SlotMap[V]) Clear() {
	for i := range m.slots {
		if m.slots[i].occupied {
			m.release(uint32(i))
		}
	}
}

// Each calls fn for every live value in slot order until fn returns false.
func (m *SlotMap[V]) Each(fn func(k Key, v *V) bool) {
	for i := range m.slots {
		s := &m.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Key{Index: uint32(i), Generation: s.gen}, &s.value) {
			return
		}
	}
}

func (m *SlotMap[V]) lookup(k Key) *slot[V] {
	if k.IsZero() || int(k.Index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[k.Index]
	if !s.occupied || s.gen != k.Generation {
		return nil
	}
	return s
}

func (m *SlotMap[V]) release(idx uint32) {
	s := &m.slots[idx]
	var zero V
	s.value = zero
	s.occupied = false
	s.gen++
	if s.gen == 0 {
		// Wrapped; skip the reserved zero generation.
		s.gen = 1
	}
	m.free = append(m.free, idx)
	m.len--
}
