// Package fake provides a manually advanced clock for deterministic tests.
package fake

import (
	"sync"
	"time"

	"github.com/JakeFAU/batch-progress/internal/clock"
)

// Clock is a clock.Clock whose time only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	now    time.Time
	timers []*timer
}

type timer struct {
	clk  *Clock
	at   time.Time
	f    func()
	done bool
}

// New returns a Clock starting at start.
func New(start time.Time) *Clock {
	c := &Clock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clk: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	return t
}

// Stop removes the timer if it has not fired yet.
func (t *timer) Stop() bool {
	c := t.clk
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	c.removeLocked(t)
	c.cond.Broadcast()
	return true
}

// Advance moves the clock forward by d, firing every timer that comes due in
// deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.earliestLocked()
		if next == nil || next.at.After(target) {
			break
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.done = true
		c.removeLocked(next)
		c.cond.Broadcast()
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending reports how many timers are armed.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntil waits until at least n timers are armed.
func (c *Clock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.cond.Wait()
	}
}

func (c *Clock) earliestLocked() *timer {
	var next *timer
	for _, t := range c.timers {
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	return next
}

func (c *Clock) removeLocked(target *timer) {
	for i, t := range c.timers {
		if t == target {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}
