package timing

import (
	"time"
)

// Timer is a pending callback that can be cancelled
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Clock abstracts time so debounce windows, response timeouts and
// settle delays can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock is the wall clock
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc calls f in its own goroutine after d
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrReal returns c, or the wall clock when c is nil
func OrReal(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}
