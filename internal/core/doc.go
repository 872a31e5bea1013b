// Package core holds the pieces shared by every dispatch component: the error
// taxonomy, generation-safe arena keys, monotonic id sequences and the clock
// abstraction used by timers and the scheduler.
package core
