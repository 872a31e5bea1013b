package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_StartsAtOne(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, uint64(0), s.Current(), "new sequence has handed out nothing")
	assert.Equal(t, uint64(1), s.Next())
	assert.Equal(t, uint64(2), s.Next())
	assert.Equal(t, uint64(2), s.Current())
}

func TestSequence_NewSequenceAt(t *testing.T) {
	s := NewSequenceAt(100)
	assert.Equal(t, uint64(101), s.Next())
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence()
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	out := make(chan uint64, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				out <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint64]bool)
	for v := range out {
		assert.False(t, seen[v], "value %d handed out twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
