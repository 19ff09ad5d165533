// Package ratelimit implements per-endpoint token bucket limits for outgoing
// render calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver records how long a caller waited for a token.
type DelayObserver interface {
	ObserveRateLimitDelay(endpoint string, d time.Duration)
}

// Limiter manages one token bucket per endpoint host. Every reporter posting
// to the same webhook host shares a bucket.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	observer     DelayObserver
}

// Config holds rate limiter configuration. A non-positive RequestsPerSecond
// disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Observer          DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		observer:     cfg.Observer,
	}
}

// Wait blocks until a token is available for the endpoint's host, respecting
// the context. A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	if l == nil {
		return nil
	}
	key := hostKey(endpoint)
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.observer != nil {
		l.observer.ObserveRateLimitDelay(endpoint, waited)
	}
	return nil
}

// Endpoints returns the number of hosts with an active bucket.
func (l *Limiter) Endpoints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func hostKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
