// Package clock abstracts wall time and deferred callbacks so replay pacing
// can be driven by real timers in production and advanced by hand in tests.
package clock

import "time"

// Clock supplies the current time and one-shot deferred callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f on its own goroutine once d has elapsed.
	// d <= 0 fires as soon as possible, never synchronously.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable handle to a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or was already stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by package time.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
