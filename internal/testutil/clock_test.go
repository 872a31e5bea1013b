package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock()
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, time.Duration(0), clock.Elapsed())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock()

	clock.Advance(5 * time.Millisecond)
	got := clock.Advance(10 * time.Millisecond)

	assert.Equal(t, Epoch.Add(15*time.Millisecond), got)
	assert.Equal(t, 15*time.Millisecond, clock.Elapsed())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock()
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*time.Millisecond, clock.Elapsed())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "app-1", NewFixedIDGenerator("app-1").Generate())
	assert.Equal(t, "test-app-default", NewFixedIDGenerator("").Generate())
}

func TestRecorder_KeepsOrder(t *testing.T) {
	r := NewRecorder()
	r.Add("a=%d", 1)
	r.Add("b")

	assert.Equal(t, []string{"a=1", "b"}, r.Lines())
	assert.Equal(t, 2, r.Len())

	r.Reset()
	assert.Equal(t, 0, r.Len())
}
