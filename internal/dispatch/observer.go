package dispatch

import (
	"github.com/horizonanalytic/lattice-sub007/internal/event"
	"github.com/horizonanalytic/lattice-sub007/internal/invocation"
)

// Observer is notified of work done by the dispatch loop.
//
// Every method runs on the dispatch goroutine and must return quickly.
// Embed BaseObserver to implement only some of them.
type Observer interface {
	// EventDispatched is called after an event was handled.
	EventDispatched(ev event.Event)

	// InvocationExecuted is called after a queued invocation ran.
	InvocationExecuted(id uint64, cmd invocation.Descriptor)

	// TasksRun is called with the number of deferred tasks run by one batch.
	TasksRun(n int)

	// ScheduledRun is called with the number of scheduled tasks run by one poll.
	ScheduledRun(n int)
}

// BaseObserver implements Observer with no-ops.
type BaseObserver struct{}

func (BaseObserver) EventDispatched(event.Event)                      {}
func (BaseObserver) InvocationExecuted(uint64, invocation.Descriptor) {}
func (BaseObserver) TasksRun(int)                                     {}
func (BaseObserver) ScheduledRun(int)                                 {}

// observers fans one notification out to several observers.
type observers []Observer

func (o observers) EventDispatched(ev event.Event) {
	for _, obs := range o {
		obs.EventDispatched(ev)
	}
}

func (o observers) InvocationExecuted(id uint64, cmd invocation.Descriptor) {
	for _, obs := range o {
		obs.InvocationExecuted(id, cmd)
	}
}

func (o observers) TasksRun(n int) {
	if n == 0 {
		return
	}
	for _, obs := range o {
		obs.TasksRun(n)
	}
}

func (o observers) ScheduledRun(n int) {
	if n == 0 {
		return
	}
	for _, obs := range o {
		obs.ScheduledRun(n)
	}
}
