// Package clock declares the time source used by timer-driven components.
package clock

import "time"

// Timer is a pending single-shot callback.
type Timer interface {
	// Stop cancels the callback. It reports false if the callback already ran
	// or was stopped.
	Stop() bool
}

// Clock returns the current time and schedules delayed callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
