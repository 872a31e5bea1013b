package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horizonanalytic/lattice-sub007/internal/core"
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
	"github.com/horizonanalytic/lattice-sub007/internal/scheduler"
	"github.com/horizonanalytic/lattice-sub007/internal/signal"
	"github.com/horizonanalytic/lattice-sub007/internal/task"
	"github.com/horizonanalytic/lattice-sub007/internal/thread"
	"github.com/horizonanalytic/lattice-sub007/internal/timer"
)

var errLoopClosed = errors.New("dispatch loop has shut down")

// EventHandler receives TimerFired and Custom events on the dispatch goroutine.
type EventHandler func(ev event.Event)

// Application owns one event loop and everything it polls.
//
// Thread-safety model:
//   - PostEvent, Quit, timer, task and scheduler methods: safe from any goroutine
//   - Run, ProcessEvents: must be called from exactly one goroutine, the
//     dispatch goroutine
//   - Handlers, timer callbacks, tasks and queued invocations all run on the
//     dispatch goroutine
//
// Each owned structure has its own lock; none is held while user code runs.
type Application struct {
	id        string
	idGen     IDGenerator
	clock     core.Clock
	maxEvents int
	taskBatch int
	observers observers

	queue       *event.Queue
	invocations *invocation.Registry
	timers      *timer.Manager
	tasks       *task.Queue
	scheduler   *scheduler.Scheduler
	affinity    thread.Affinity

	quit      atomic.Bool
	suspended atomic.Int32

	handlerMu sync.RWMutex
	handler   EventHandler

	callbacksMu sync.Mutex
	callbacks   map[timer.ID]func()
}

var _ signal.Dispatcher = (*Application)(nil)

// New creates an Application. Nothing runs until Run or ProcessEvents.
func New(opts ...Option) *Application {
	a := &Application{
		idGen:     UUIDv7Generator{},
		clock:     core.SystemClock{},
		maxEvents: DefaultMaxEventsPerIteration,
		taskBatch: task.DefaultBatchSize,
		queue:     event.NewQueue(),
		callbacks: make(map[timer.ID]func()),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.id = a.idGen.Generate()
	a.invocations = invocation.NewRegistry(invocation.WithClock(a.clock))
	a.timers = timer.NewManager(a.clock)
	a.tasks = task.NewQueueWithBatchSize(a.taskBatch)
	a.scheduler = scheduler.New(a.clock)
	return a
}

// ID returns the instance id.
func (a *Application) ID() string {
	return a.id
}

// Invocations returns the registry queued signal calls are deposited in.
func (a *Application) Invocations() *invocation.Registry {
	return a.invocations
}

// Clock returns the clock driving timers and the scheduler.
func (a *Application) Clock() core.Clock {
	return a.clock
}

// DispatchThread returns the goroutine running the loop, or thread.None.
func (a *Application) DispatchThread() thread.ID {
	return a.affinity.Owner()
}

// IsDispatchThread reports whether the caller is the dispatch goroutine.
func (a *Application) IsDispatchThread() bool {
	return a.affinity.IsCurrent()
}

// BindDispatchThread makes the calling goroutine the dispatch goroutine.
// Run does this itself; callers driving the loop with ProcessEvents call it
// once before the first iteration.
func (a *Application) BindDispatchThread() {
	a.affinity.BindCurrent()
}

// PostEvent queues ev for the dispatch goroutine. Safe from any goroutine.
// Fails with EVENT_DISPATCH_FAILED once the loop has shut down.
func (a *Application) PostEvent(ev event.Event) error {
	if !a.queue.Enqueue(ev) {
		return core.NewEventDispatchFailed(ev.Kind.String(), errLoopClosed)
	}
	return nil
}

// PendingEvents returns the number of queued events.
func (a *Application) PendingEvents() int {
	return a.queue.Len()
}

// SetEventHandler installs the handler for TimerFired and Custom events.
func (a *Application) SetEventHandler(h EventHandler) {
	a.handlerMu.Lock()
	a.handler = h
	a.handlerMu.Unlock()
}

// ClearEventHandler removes the event handler.
func (a *Application) ClearEventHandler() {
	a.SetEventHandler(nil)
}

// AddObserver adds an observer after construction, for observers that need
// the Application's id or registry. It must be called before Run or the
// first ProcessEvents.
func (a *Application) AddObserver(o Observer) {
	a.observers = append(a.observers, o)
}

// Quit asks the loop to stop. Run returns after the current event.
func (a *Application) Quit() {
	slog.Info("quit requested", "app_id", a.id)
	a.quit.Store(true)
	_ = a.PostEvent(event.Quit())
}

// ShouldQuit reports whether Quit was called or a Quit event dispatched.
func (a *Application) ShouldQuit() bool {
	return a.quit.Load()
}

// Suspend pauses dispatching. Events are still accepted and timers still
// expire into the queue, but nothing is dispatched and no task runs until a
// matching Resume. Suspensions nest.
func (a *Application) Suspend() {
	a.suspended.Add(1)
}

// Resume undoes one Suspend and wakes the loop.
func (a *Application) Resume() {
	if a.suspended.Add(-1) < 0 {
		a.suspended.Store(0)
	}
	_ = a.PostEvent(event.WakeUp())
}

// IsSuspended reports whether dispatching is paused.
func (a *Application) IsSuspended() bool {
	return a.suspended.Load() > 0
}

// Suspended runs fn with dispatching paused and resumes however fn exits.
func (a *Application) Suspended(fn func()) {
	a.Suspend()
	defer a.Resume()
	fn()
}

// StartTimer starts a one-shot timer firing d from now.
func (a *Application) StartTimer(d time.Duration) timer.ID {
	id := a.timers.StartOneShot(d)
	a.wake()
	return id
}

// StartRepeatingTimer starts a timer firing every interval.
func (a *Application) StartRepeatingTimer(interval time.Duration) timer.ID {
	id := a.timers.StartRepeating(interval)
	a.wake()
	return id
}

// StopTimer stops a timer and drops its callback. A TimerFired event already
// queued for it is still delivered to the event handler.
func (a *Application) StopTimer(id timer.ID) error {
	a.callbacksMu.Lock()
	delete(a.callbacks, id)
	a.callbacksMu.Unlock()
	return a.timers.Stop(id)
}

// IsTimerActive reports whether a timer will still fire.
func (a *Application) IsTimerActive(id timer.ID) bool {
	return a.timers.IsActive(id)
}

// ActiveTimers returns the number of active timers.
func (a *Application) ActiveTimers() int {
	return a.timers.ActiveCount()
}

// OnTimer runs fn on the dispatch goroutine each time timer id fires, before
// the event handler sees the event. Returns core.ErrInvalidTimerID if the
// timer is not active.
func (a *Application) OnTimer(id timer.ID, fn func()) error {
	if !a.timers.IsActive(id) {
		return core.ErrInvalidTimerID
	}
	a.callbacksMu.Lock()
	a.callbacks[id] = fn
	a.callbacksMu.Unlock()
	return nil
}

// PostTask queues fn to run on the dispatch goroutine during idle time.
// Tasks run in the batch phase of an iteration, at most one batch per
// iteration; PostTask only wakes the loop.
func (a *Application) PostTask(fn func()) task.ID {
	id := a.tasks.Post(fn)
	if err := a.PostEvent(event.WakeUp()); err != nil {
		slog.Debug("task posted after shutdown", "task_id", id)
	}
	return id
}

// CancelTask removes a task that has not run. Returns false otherwise.
func (a *Application) CancelTask(id task.ID) bool {
	return a.tasks.Cancel(id)
}

// PendingTasks returns the number of deferred tasks not yet run.
func (a *Application) PendingTasks() int {
	return a.tasks.PendingCount()
}

// ProcessTaskBatch runs up to one batch of deferred tasks now, outside the
// normal iteration. Call it from the dispatch goroutine only.
func (a *Application) ProcessTaskBatch() int {
	n := a.tasks.ProcessBatch()
	a.observers.TasksRun(n)
	return n
}

// ProcessAllTasks runs deferred tasks until none remain, including tasks
// posted while draining. Call it from the dispatch goroutine only.
func (a *Application) ProcessAllTasks() int {
	n := a.tasks.ProcessAll()
	a.observers.TasksRun(n)
	return n
}

// ScheduleTask runs fn once, delay from now.
func (a *Application) ScheduleTask(delay time.Duration, fn func()) scheduler.ID {
	id := a.scheduler.ScheduleOnce(delay, fn)
	a.wake()
	return id
}

// ScheduleTaskAt runs fn once at t.
func (a *Application) ScheduleTaskAt(t time.Time, fn func()) scheduler.ID {
	id := a.scheduler.ScheduleAt(t, fn)
	a.wake()
	return id
}

// ScheduleRepeatingTask runs fn every interval.
func (a *Application) ScheduleRepeatingTask(interval time.Duration, fn func()) scheduler.ID {
	id := a.scheduler.ScheduleRepeating(interval, fn)
	a.wake()
	return id
}

// ScheduleRepeatingTaskWithDelay runs fn after initial, then every interval.
func (a *Application) ScheduleRepeatingTaskWithDelay(initial, interval time.Duration, fn func()) scheduler.ID {
	id := a.scheduler.ScheduleRepeatingWithDelay(initial, interval, fn)
	a.wake()
	return id
}

// CancelScheduledTask cancels a scheduled task.
func (a *Application) CancelScheduledTask(id scheduler.ID) error {
	return a.scheduler.Cancel(id)
}

// RescheduleTask moves a scheduled task to delay from now.
func (a *Application) RescheduleTask(id scheduler.ID, delay time.Duration) error {
	if err := a.scheduler.Reschedule(id, delay); err != nil {
		return err
	}
	a.wake()
	return nil
}

// IsScheduledTaskActive reports whether a scheduled task will still run.
func (a *Application) IsScheduledTaskActive(id scheduler.ID) bool {
	return a.scheduler.IsActive(id)
}

// ActiveScheduledTasks returns the number of active scheduled tasks.
func (a *Application) ActiveScheduledTasks() int {
	return a.scheduler.ActiveCount()
}

// wake nudges a waiting loop to recompute its deadline.
func (a *Application) wake() {
	_ = a.PostEvent(event.WakeUp())
}

// Run drives the loop on the calling goroutine until Quit, ctx cancellation
// or Shutdown.
//
// Returns nil on Quit or Shutdown and ctx.Err() on cancellation. On the way
// out the event queue is closed and pending invocations are discarded, which
// wakes any emitter still blocked on one.
//
// ERROR HANDLING: a panicking handler, callback, task or invocation is
// logged and the loop continues.
func (a *Application) Run(ctx context.Context) error {
	a.affinity.BindCurrent()
	defer a.affinity.Unbind()
	defer a.shutdown()

	slog.Info("dispatch loop starting", "app_id", a.id)

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("dispatch loop stopping: context cancelled", "app_id", a.id)
			return err
		}

		a.iterate()

		if a.ShouldQuit() {
			slog.Info("dispatch loop stopping: quit", "app_id", a.id)
			return nil
		}
		if a.queue.Closed() {
			slog.Info("dispatch loop stopping: queue closed", "app_id", a.id)
			return nil
		}

		if err := a.wait(ctx); err != nil {
			slog.Info("dispatch loop stopping: context cancelled", "app_id", a.id)
			return err
		}
	}
}

// Shutdown stops the loop from any goroutine. Later posts fail.
func (a *Application) Shutdown() {
	a.queue.Close()
}

// ProcessEvents runs one non-blocking iteration and reports what it did.
// Call it from the dispatch goroutine only.
func (a *Application) ProcessEvents() Iteration {
	return a.iterate()
}

// NextWait returns how long the loop may sleep before it has work: zero when
// work is ready, the nearest timer or scheduler deadline otherwise, and false
// when nothing is pending and the loop may sleep until an event arrives.
func (a *Application) NextWait() (time.Duration, bool) {
	suspended := a.IsSuspended()
	if !suspended {
		if a.queue.Len() > 0 || a.tasks.HasPending() || a.scheduler.HasReady() {
			return 0, true
		}
	}

	wait, ok := a.timers.TimeUntilNext()
	if !suspended {
		if s, sok := a.scheduler.TimeUntilNext(); sok && (!ok || s < wait) {
			wait, ok = s, true
		}
	}
	return wait, ok
}

// Iteration summarizes one pass of the loop.
type Iteration struct {
	TimersFired      int
	ScheduledRun     int
	EventsDispatched int
	TasksRun         int
}

// Idle reports whether the iteration did nothing.
func (it Iteration) Idle() bool {
	return it == Iteration{}
}

func (a *Application) iterate() Iteration {
	var it Iteration

	for _, ev := range a.timers.ProcessExpired() {
		if err := a.PostEvent(ev); err != nil {
			logEventError(ev, err)
			continue
		}
		it.TimersFired++
	}

	if a.IsSuspended() {
		return it
	}

	it.ScheduledRun = a.scheduler.ProcessReady()
	a.observers.ScheduledRun(it.ScheduledRun)

	for it.EventsDispatched < a.maxEvents {
		ev, ok := a.queue.TryDequeue()
		if !ok {
			break
		}
		it.EventsDispatched++
		a.dispatch(ev)
		if ev.Kind == event.KindQuit || a.IsSuspended() {
			return it
		}
	}

	it.TasksRun = a.tasks.ProcessBatch()
	a.observers.TasksRun(it.TasksRun)
	return it
}

func (a *Application) wait(ctx context.Context) error {
	d, ok := a.NextWait()
	if ok && d <= 0 {
		return nil
	}

	var deadline <-chan time.Time
	if ok {
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.queue.Wait():
	case <-deadline:
	}
	return nil
}

// dispatch routes one event. Called only from the dispatch goroutine.
func (a *Application) dispatch(ev event.Event) {
	switch ev.Kind {
	case event.KindQueuedInvocationReady:
		a.runInvocation(ev)

	case event.KindTimerFired:
		a.callbacksMu.Lock()
		cb := a.callbacks[ev.TimerID]
		if cb != nil && !a.timers.IsActive(ev.TimerID) {
			delete(a.callbacks, ev.TimerID)
		}
		a.callbacksMu.Unlock()

		if cb != nil {
			a.guard(ev, cb)
		}
		a.handle(ev)

	case event.KindQuit:
		a.quit.Store(true)

	case event.KindWakeUp, event.KindDeferredTaskDue:
		// Wake only. Deferred tasks run in the batch phase.

	case event.KindCustom:
		a.handle(ev)

	default:
		logEventError(ev, fmt.Errorf("unknown event kind: %d", ev.Kind))
		return
	}

	a.observers.EventDispatched(ev)
}

func (a *Application) runInvocation(ev event.Event) {
	inv, ok := a.invocations.Take(ev.InvocationID)
	if !ok {
		slog.Debug("invocation already taken", "invocation_id", ev.InvocationID)
		return
	}

	slog.Debug("executing invocation",
		"invocation_id", inv.ID,
		"type", inv.Command.Describe().Type,
	)
	a.guard(ev, inv.Execute)
	a.observers.InvocationExecuted(inv.ID, inv.Command.Describe())
}

func (a *Application) handle(ev event.Event) {
	a.handlerMu.RLock()
	h := a.handler
	a.handlerMu.RUnlock()

	if h != nil {
		a.guard(ev, func() { h(ev) })
	}
}

// guard runs fn, turning a panic into a logged error.
func (a *Application) guard(ev event.Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logEventError(ev, fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func (a *Application) shutdown() {
	a.quit.Store(true)
	a.queue.Close()
	if n := a.invocations.Clear(); n > 0 {
		slog.Warn("discarded pending invocations at shutdown", "app_id", a.id, "count", n)
	}
}

// logEventError logs a failure with enough event context to investigate it.
// The loop continues after logging.
func logEventError(ev event.Event, err error) {
	slog.Error("event processing failed",
		"event", ev.String(),
		"kind", ev.Kind.String(),
		"error", err,
	)
}
