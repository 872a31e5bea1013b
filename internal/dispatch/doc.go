// Package dispatch implements the event loop that drives the dispatch core.
//
// An Application owns the prioritized event queue, the invocation registry,
// the timer manager, the deferred task queue and the scheduler. One
// goroutine runs the loop; every other goroutine talks to it by posting
// events, emitting signals, starting timers or posting tasks.
//
// Each iteration:
//
//  1. moves expired timers into the queue as TimerFired events
//  2. runs due scheduled tasks
//  3. dispatches up to MaxEventsPerIteration queued events, highest
//     priority first
//  4. runs one batch of deferred tasks
//
// and then sleeps until the nearest timer or scheduler deadline, or until a
// new event arrives.
package dispatch
