// Package signal implements typed signals with per-connection delivery.
//
// A Signal[T] holds an ordered list of connections. Each connection names a
// slot, a ConnectionType and the goroutine it is local to. Emit walks the
// list once per call:
//
//   - Direct runs the slot inline.
//   - Queued registers an invocation.InvokeSlot with the dispatcher's
//     registry and posts a QueuedInvocationReady event for it.
//   - Blocking does the same with a completion pair attached and waits for
//     the dispatch goroutine to run it.
//   - Auto is Direct on the connection's own goroutine and Queued elsewhere.
//
// The dispatch goroutine must never emit into a Blocking connection; Emit
// panics rather than deadlock.
package signal
