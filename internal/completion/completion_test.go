package completion

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPair_SignalThenWait(t *testing.T) {
	h, w := NewPair()

	h.SignalDone()

	// Already done: Wait returns immediately.
	assert.True(t, w.Wait())
	assert.True(t, w.IsDone())
}

func TestPair_WaitAcrossGoroutines(t *testing.T) {
	h, w := NewPair()
	var sideEffect atomic.Bool

	go func() {
		time.Sleep(10 * time.Millisecond)
		sideEffect.Store(true)
		h.SignalDone()
	}()

	require.True(t, w.Wait())
	assert.True(t, sideEffect.Load(), "side effect must be visible once Wait returns")
}

func TestPair_WaitTimeout_Expires(t *testing.T) {
	_, w := NewPair()

	start := time.Now()
	ok := w.WaitTimeout(20 * time.Millisecond)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPair_WaitTimeout_Completes(t *testing.T) {
	h, w := NewPair()

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.SignalDone()
	}()

	assert.True(t, w.WaitTimeout(time.Second))
}

func TestPair_SignalDoneTwiceIsNoop(t *testing.T) {
	h, w := NewPair()

	h.SignalDone()
	assert.NotPanics(t, h.SignalDone)
	assert.True(t, w.IsDone())
}

func TestPair_ManyWaiterRechecks(t *testing.T) {
	h, w := NewPair()
	h.SignalDone()

	for i := 0; i < 3; i++ {
		assert.True(t, w.WaitTimeout(time.Millisecond), "re-check %d", i)
	}
}

func TestPair_ConcurrentWaitersAllWake(t *testing.T) {
	h, w := NewPair()
	const waiters = 10

	var wg sync.WaitGroup
	var woke atomic.Int32
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Wait()
			woke.Add(1)
		}()
	}

	h.SignalDone()
	wg.Wait()
	assert.Equal(t, int32(waiters), woke.Load())
}

func TestPair_WaitContext(t *testing.T) {
	_, w := NewPair()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := w.WaitContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPair_AbandonWakesWithoutDone(t *testing.T) {
	h, w := NewPair()

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.Abandon()
	}()

	assert.False(t, w.Wait(), "abandoned pair reports not done")
	assert.False(t, w.IsDone())

	// Abandon consumed the handle.
	h.SignalDone()
	assert.False(t, w.IsDone())
	assert.ErrorIs(t, w.WaitContext(context.Background()), ErrAbandoned)
}
