// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/batch-progress/internal/clock"
)

// Clock implements clock.Clock using the runtime timer wheel.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f on its own goroutine once d has elapsed.
func (Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return time.AfterFunc(d, f)
}
