package dispatch

import (
	"github.com/horizonanalytic/lattice-sub007/internal/core"
)

// DefaultMaxEventsPerIteration bounds how many queued events one loop
// iteration dispatches before timers and tasks get another turn.
const DefaultMaxEventsPerIteration = 64

// Option configures an Application.
type Option func(*Application)

// WithClock sets the clock shared by the timer manager, the scheduler and
// the invocation registry. Tests pass a testutil.ManualClock.
func WithClock(c core.Clock) Option {
	return func(a *Application) {
		a.clock = c
	}
}

// WithIDGenerator sets the instance id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Application) {
		a.idGen = g
	}
}

// WithMaxEventsPerIteration sets the per-iteration event budget.
// Values below 1 are ignored.
func WithMaxEventsPerIteration(n int) Option {
	return func(a *Application) {
		if n > 0 {
			a.maxEvents = n
		}
	}
}

// WithTaskBatchSize sets how many deferred tasks run per iteration.
func WithTaskBatchSize(n int) Option {
	return func(a *Application) {
		a.taskBatch = n
	}
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(a *Application) {
		a.observers = append(a.observers, o)
	}
}
