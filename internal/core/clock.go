package core

import "time"

// Clock supplies the current instant to the timer manager and scheduler.
// Tests substitute testutil.ManualClock to make expiry deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the monotonic wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Until returns the non-negative duration from now until t.
func Until(c Clock, t time.Time) time.Duration {
	d := t.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}
