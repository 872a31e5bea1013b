package signal

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/testutil"
	"github.com/horizonanalytic/lattice-sub007/internal/thread"
)

// fakeLoop is a minimal Dispatcher: a registry plus an event queue that the
// test drains by hand.
type fakeLoop struct {
	reg     *invocation.Registry
	queue   *event.Queue
	owner   thread.ID
	postErr error
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		reg:   invocation.NewRegistry(),
		queue: event.NewQueue(),
	}
}

func (f *fakeLoop) Invocations() *invocation.Registry { return f.reg }
func (f *fakeLoop) DispatchThread() thread.ID         { return f.owner }

func (f *fakeLoop) PostEvent(ev event.Event) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.queue.Enqueue(ev)
	return nil
}

// processOne dispatches one queued event and reports whether a command ran.
func (f *fakeLoop) processOne() bool {
	ev, ok := f.queue.TryDequeue()
	if !ok || ev.Kind != event.KindQueuedInvocationReady {
		return false
	}
	inv, ok := f.reg.Take(ev.InvocationID)
	if !ok {
		return false
	}
	inv.Execute()
	return true
}

func (f *fakeLoop) processAll() int {
	n := 0
	for f.queue.Len() > 0 {
		if f.processOne() {
			n++
		}
	}
	return n
}

// runBlockingOnly executes the first pending invocation carrying a
// completion handle, polling until one shows up.
func (f *fakeLoop) runBlockingOnly(t *testing.T) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range f.reg.Snapshot() {
			if !p.HasCompletion {
				continue
			}
			if inv, ok := f.reg.Take(p.ID); ok {
				inv.Execute()
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("no blocking invocation registered")
}

func TestSignal_DirectRunsInline(t *testing.T) {
	sig := New[int]("value_changed", newFakeLoop())
	got := 0

	sig.Connect(func(v int) { got = v }, Direct)

	require.NoError(t, sig.Emit(7))
	assert.Equal(t, 7, got)
}

func TestSignal_RegistrationOrder(t *testing.T) {
	sig := New[string]("ordered", newFakeLoop())
	rec := testutil.NewRecorder()

	for _, name := range []string{"a", "b", "c"} {
		sig.Connect(func(v string) { rec.Add("%s:%s", name, v) }, Direct)
	}

	require.NoError(t, sig.Emit("x"))
	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, rec.Lines())
}

// Scenario B: one emit reaching a Direct, a Queued and a Blocking slot.
func TestSignal_MixedConnectionTypes(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("mixed", loop)

	var direct, queued, blocking atomic.Int64
	sig.Connect(func(v int) { direct.Store(int64(v)) }, Direct)
	sig.Connect(func(v int) { queued.Store(int64(v)) }, Queued)
	sig.Connect(func(v int) { blocking.Store(int64(v)) }, Blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.runBlockingOnly(t)
	}()

	require.NoError(t, sig.Emit(42))
	<-done

	assert.Equal(t, int64(42), direct.Load())
	assert.Equal(t, int64(42), blocking.Load(), "Emit returned before the blocking slot ran")
	assert.Equal(t, int64(0), queued.Load(), "queued slot must wait for the loop")

	assert.Equal(t, 1, loop.processAll())
	assert.Equal(t, int64(42), queued.Load())
	assert.Equal(t, 0, loop.reg.PendingCount())
}

func TestSignal_BlockingWaitsForSlotBody(t *testing.T) {
	for i := 0; i < 50; i++ {
		loop := newFakeLoop()
		sig := New[int]("blocking", loop)

		var ran atomic.Bool
		sig.Connect(func(int) {
			time.Sleep(100 * time.Microsecond)
			ran.Store(true)
		}, Blocking)

		go loop.runBlockingOnly(t)

		require.NoError(t, sig.Emit(1))
		require.True(t, ran.Load(), "iteration %d", i)
	}
}

func TestSignal_BlockingTimeout(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("slow", loop)

	sig.Connect(func(int) {}, Blocking, WithTimeout(10*time.Millisecond))

	start := time.Now()
	require.NoError(t, sig.Emit(1))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 1, loop.reg.PendingCount(), "invocation still pending after the wait gave up")
}

func TestSignal_BlockingWakesOnClear(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("cleared", loop)
	sig.Connect(func(int) {}, Blocking)

	returned := make(chan struct{})
	go func() {
		_ = sig.Emit(1)
		close(returned)
	}()

	require.Eventually(t, func() bool { return loop.reg.PendingCount() == 1 }, time.Second, time.Millisecond)
	loop.reg.Clear()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Emit still blocked after Clear")
	}
}

func TestSignal_BlockingFromDispatchThreadPanics(t *testing.T) {
	loop := newFakeLoop()
	loop.owner = thread.Current()
	sig := New[int]("self", loop)
	sig.Connect(func(int) {}, Blocking)

	assert.PanicsWithValue(t, blockingSelfWait, func() { _ = sig.Emit(1) })
	assert.Equal(t, 0, loop.reg.PendingCount())
}

func TestSignal_AutoResolvesByGoroutine(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("auto", loop)

	var local, remote atomic.Int64
	sig.Connect(func(v int) { local.Store(int64(v)) }, Auto)
	sig.Connect(func(v int) { remote.Store(int64(v)) }, Auto, WithThread(thread.ID(-1)))

	require.NoError(t, sig.Emit(5))
	assert.Equal(t, int64(5), local.Load())
	assert.Equal(t, int64(0), remote.Load())

	loop.processAll()
	assert.Equal(t, int64(5), remote.Load())
}

func TestSignal_AutoFromOtherGoroutineQueues(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("auto-cross", loop)

	var got atomic.Int64
	sig.Connect(func(v int) { got.Store(int64(v)) }, Auto)

	done := make(chan error)
	go func() { done <- sig.Emit(9) }()
	require.NoError(t, <-done)

	assert.Equal(t, int64(0), got.Load())
	assert.Equal(t, 1, loop.processAll())
	assert.Equal(t, int64(9), got.Load())
}

func TestSignal_DisconnectTwice(t *testing.T) {
	sig := New[int]("disc", newFakeLoop())
	id := sig.Connect(func(int) {}, Direct)

	require.NoError(t, sig.Disconnect(id))
	err := sig.Disconnect(id)
	assert.True(t, errors.Is(err, core.ErrInvalidConnection))
	assert.Equal(t, 0, sig.ConnectionCount())
}

func TestSignal_DisconnectedIDDoesNotAlias(t *testing.T) {
	sig := New[int]("alias", newFakeLoop())
	old := sig.Connect(func(int) {}, Direct)
	require.NoError(t, sig.Disconnect(old))

	fresh := sig.Connect(func(int) {}, Direct)
	assert.NotEqual(t, old, fresh)
	assert.False(t, sig.IsConnected(old))
	assert.ErrorIs(t, sig.Disconnect(old), core.ErrInvalidConnection)
	assert.True(t, sig.IsConnected(fresh))
}

func TestSignal_InFlightQueuedSurvivesDisconnect(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("inflight", loop)
	ran := false
	id := sig.Connect(func(int) { ran = true }, Queued)

	require.NoError(t, sig.Emit(1))
	require.NoError(t, sig.Disconnect(id))
	require.NoError(t, sig.Emit(2))

	assert.Equal(t, 1, loop.processAll())
	assert.True(t, ran)
}

func TestSignal_SlotMayDisconnectItself(t *testing.T) {
	sig := New[int]("reentrant", newFakeLoop())
	calls := 0

	var id ConnectionID
	id = sig.Connect(func(int) {
		calls++
		_ = sig.Disconnect(id)
	}, Direct)

	require.NoError(t, sig.Emit(1))
	require.NoError(t, sig.Emit(2))
	assert.Equal(t, 1, calls)
}

func TestSignal_Blocked(t *testing.T) {
	sig := New[int]("blocked", newFakeLoop())
	calls := 0
	sig.Connect(func(int) { calls++ }, Direct)

	sig.SetBlocked(true)
	assert.True(t, sig.IsBlocked())
	require.NoError(t, sig.Emit(1))
	n, err := sig.EmitQueued(1)
	require.NoError(t, err)
	assert.Zero(t, n)

	sig.SetBlocked(false)
	require.NoError(t, sig.Emit(1))
	assert.Equal(t, 1, calls)
}

func TestSignal_SetEnabled(t *testing.T) {
	sig := New[int]("enabled", newFakeLoop())
	calls := 0
	id := sig.Connect(func(int) { calls++ }, Direct)

	require.NoError(t, sig.SetEnabled(id, false))
	require.NoError(t, sig.Emit(1))
	assert.Zero(t, calls)

	require.NoError(t, sig.SetEnabled(id, true))
	require.NoError(t, sig.Emit(1))
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, sig.SetEnabled(ConnectionID{}, true), core.ErrInvalidConnection)
}

func TestSignal_EmitQueuedForcesQueueing(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("forced", loop)
	calls := 0
	sig.Connect(func(int) { calls++ }, Direct)
	sig.Connect(func(int) { calls++ }, Blocking)

	n, err := sig.EmitQueued(3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, calls)

	assert.Equal(t, 2, loop.processAll())
	assert.Equal(t, 2, calls)
}

func TestSignal_Close(t *testing.T) {
	sig := New[int]("closed", newFakeLoop())
	sig.Connect(func(int) {}, Direct)

	sig.Close()
	assert.ErrorIs(t, sig.Emit(1), core.ErrSignalDropped)
	_, err := sig.EmitQueued(1)
	assert.ErrorIs(t, err, core.ErrSignalDropped)
	assert.Equal(t, 0, sig.ConnectionCount())
	assert.True(t, sig.Connect(func(int) {}, Direct).IsZero())
}

func TestSignal_PostFailureOrphansInvocation(t *testing.T) {
	loop := newFakeLoop()
	loop.postErr = errors.New("loop stopped")
	sig := New[int]("orphan", loop)

	sig.Connect(func(int) {}, Queued)
	sig.Connect(func(int) {}, Blocking)

	err := sig.Emit(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrQueueFailed)
	assert.Equal(t, core.ErrCodeQueueFailed, core.CodeOf(err))

	assert.Equal(t, 2, loop.reg.PendingCount())
	assert.Equal(t, []uint64{1, 2}, loop.reg.OrphanedIDs())
}

func TestSignal_NilDispatcherRunsInline(t *testing.T) {
	sig := New[int]("detached", nil)
	calls := 0
	sig.Connect(func(int) { calls++ }, Queued)
	sig.Connect(func(int) { calls++ }, Blocking)

	require.NoError(t, sig.Emit(1))
	assert.Equal(t, 2, calls)
}

func TestSignal_QueuedDescriptor(t *testing.T) {
	loop := newFakeLoop()
	sig := New[int]("described", loop)
	id := sig.Connect(func(int) {}, Queued)

	require.NoError(t, sig.Emit(12))

	pending := loop.reg.Snapshot()
	require.Len(t, pending, 1)
	d := pending[0].Command
	assert.Equal(t, invocation.TypeInvokeSlot, d.Type)
	assert.Equal(t, "described", d.Signal)
	assert.Equal(t, id.String(), d.Connection)
	assert.Equal(t, "12", d.Payload)
}

func TestScopedConnection_Close(t *testing.T) {
	sig := New[int]("scoped", newFakeLoop())
	calls := 0

	conn := sig.ConnectScoped(func(int) { calls++ }, Direct)
	require.NoError(t, sig.Emit(1))

	conn.Close()
	conn.Close()
	require.NoError(t, sig.Emit(1))

	assert.Equal(t, 1, calls)
	assert.False(t, sig.IsConnected(conn.ID()))
}

func TestEmitter_TypeErased(t *testing.T) {
	var e Emitter = New[string]("erased", newFakeLoop())
	e.SetBlocked(true)
	assert.True(t, e.IsBlocked())
	assert.Equal(t, "erased", e.Name())
	assert.Equal(t, 0, e.ConnectionCount())
}

func TestParseConnectionType(t *testing.T) {
	for _, typ := range []ConnectionType{Auto, Direct, Queued, Blocking} {
		got, ok := ParseConnectionType(typ.String())
		require.True(t, ok)
		assert.Equal(t, typ, got)
	}
	_, ok := ParseConnectionType("Sideways")
	assert.False(t, ok)
}
