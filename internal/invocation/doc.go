// Package invocation implements the registry that ferries queued slot calls
// and background callbacks from producer goroutines to the dispatch goroutine.
//
// A producer registers a Command and posts a QueuedInvocationReady event
// carrying the returned id. The dispatch loop takes the id, which removes the
// entry, and executes it. Take is exactly-once: a second take of the same id,
// or a take of an id never registered, reports not found.
//
// When a ready event cannot be posted the invocation is marked orphaned. The
// Reaper reclaims orphans on a fixed interval; Registry.Clear drops everything
// at teardown.
package invocation
