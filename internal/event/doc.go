// Package event defines the dispatch event vocabulary and the prioritized
// queue the dispatch loop drains.
//
// Every event kind has a fixed priority:
//
//	Quit                                 Critical
//	TimerFired, QueuedInvocationReady    High
//	WakeUp, Custom                       Normal
//	DeferredTaskDue                      Low
//
// The queue orders by priority, then by arrival. Two events of the same
// priority always leave in the order they were enqueued, whichever goroutines
// produced them.
package event
