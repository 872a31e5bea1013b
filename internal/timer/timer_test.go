package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/testutil"
)

func newTestManager() (*Manager, *testutil.ManualClock) {
	clock := testutil.NewManualClock()
	return NewManager(clock), clock
}

// Scenario A: a zero-duration one-shot fires on the next poll and is gone.
func TestManager_ZeroOneShotFiresImmediately(t *testing.T) {
	m, _ := newTestManager()

	id := m.StartOneShot(0)
	require.True(t, m.IsActive(id))

	events := m.ProcessExpired()
	require.Len(t, events, 1)
	assert.Equal(t, event.KindTimerFired, events[0].Kind)
	assert.Equal(t, id, events[0].TimerID)

	assert.False(t, m.IsActive(id))
	assert.Equal(t, 0, m.ActiveCount())
}

func TestManager_ZeroOneShotWithSystemClock(t *testing.T) {
	m := NewManager(nil)

	id := m.StartOneShot(0)
	events := m.ProcessExpired()

	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].TimerID)
	assert.False(t, m.IsActive(id))
}

func TestManager_ExpiredInFireTimeOrder(t *testing.T) {
	m, clock := newTestManager()

	t10 := m.StartOneShot(10 * time.Millisecond)
	t5 := m.StartOneShot(5 * time.Millisecond)
	t20 := m.StartOneShot(20 * time.Millisecond)

	clock.Advance(20 * time.Millisecond)
	events := m.ProcessExpired()

	require.Len(t, events, 3)
	assert.Equal(t, []ID{t5, t10, t20}, []ID{events[0].TimerID, events[1].TimerID, events[2].TimerID})
}

func TestManager_NotDueDoesNotFire(t *testing.T) {
	m, clock := newTestManager()
	id := m.StartOneShot(10 * time.Millisecond)

	clock.Advance(9 * time.Millisecond)
	assert.Empty(t, m.ProcessExpired())
	assert.True(t, m.IsActive(id))

	clock.Advance(time.Millisecond)
	assert.Len(t, m.ProcessExpired(), 1)
}

func TestManager_RepeatingReschedules(t *testing.T) {
	m, clock := newTestManager()
	interval := 50 * time.Millisecond

	id := m.StartRepeating(interval)

	clock.Advance(interval)
	events := m.ProcessExpired()
	require.Len(t, events, 1)
	assert.True(t, m.IsActive(id), "repeating timer stays active after firing")

	next, ok := m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, interval, next)

	kind, ok := m.Kind(id)
	require.True(t, ok)
	assert.Equal(t, Repeating, kind)
}

func TestManager_RepeatingFiresOncePerPoll(t *testing.T) {
	m, clock := newTestManager()
	m.StartRepeating(10 * time.Millisecond)

	// Three intervals pass between polls; the timer still fires once and
	// reschedules from now.
	clock.Advance(30 * time.Millisecond)
	assert.Len(t, m.ProcessExpired(), 1)

	next, ok := m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, next)
}

func TestManager_ZeroIntervalRepeatingDoesNotSpin(t *testing.T) {
	m, clock := newTestManager()
	id := m.StartRepeating(0)

	next, ok := m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, MinInterval, next)
	assert.Empty(t, m.ProcessExpired())

	clock.Advance(MinInterval)
	assert.Len(t, m.ProcessExpired(), 1)
	assert.Empty(t, m.ProcessExpired(), "not due again until another tick passes")

	next, ok = m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, MinInterval, next)
	assert.True(t, m.IsActive(id))
}

func TestManager_StopTwice(t *testing.T) {
	m, _ := newTestManager()
	id := m.StartOneShot(time.Second)

	require.NoError(t, m.Stop(id))
	err := m.Stop(id)
	assert.ErrorIs(t, err, core.ErrInvalidTimerID)
	assert.False(t, m.IsActive(id))
}

func TestManager_StopFiredOneShot(t *testing.T) {
	m, _ := newTestManager()
	id := m.StartOneShot(0)
	m.ProcessExpired()

	assert.ErrorIs(t, m.Stop(id), core.ErrInvalidTimerID)
}

func TestManager_StoppedTimerIsLazilyPruned(t *testing.T) {
	m, clock := newTestManager()
	early := m.StartOneShot(5 * time.Millisecond)
	m.StartOneShot(15 * time.Millisecond)

	require.NoError(t, m.Stop(early))

	next, ok := m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, 15*time.Millisecond, next, "stale head is skipped")

	clock.Advance(20 * time.Millisecond)
	assert.Len(t, m.ProcessExpired(), 1)
}

func TestManager_TimeUntilNext_NoTimers(t *testing.T) {
	m, _ := newTestManager()

	_, ok := m.TimeUntilNext()
	assert.False(t, ok)

	id := m.StartOneShot(time.Second)
	require.NoError(t, m.Stop(id))

	_, ok = m.TimeUntilNext()
	assert.False(t, ok, "only stale entries remain")
}

func TestManager_TimeUntilNext_Overdue(t *testing.T) {
	m, clock := newTestManager()
	m.StartOneShot(5 * time.Millisecond)
	clock.Advance(time.Second)

	next, ok := m.TimeUntilNext()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), next)
}

func TestManager_StaleIDDoesNotAliasReusedSlot(t *testing.T) {
	m, _ := newTestManager()
	old := m.StartOneShot(time.Second)
	require.NoError(t, m.Stop(old))

	fresh := m.StartOneShot(time.Second)
	assert.Equal(t, old.Index, fresh.Index, "slot is reused")
	assert.False(t, m.IsActive(old))
	assert.ErrorIs(t, m.Stop(old), core.ErrInvalidTimerID)
	assert.True(t, m.IsActive(fresh))
}

func TestManager_Clear(t *testing.T) {
	m, _ := newTestManager()
	a := m.StartOneShot(time.Second)
	m.StartRepeating(time.Second)

	m.Clear()
	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, m.IsActive(a))
	_, ok := m.TimeUntilNext()
	assert.False(t, ok)
}
