// Package ratelimit implements a sliding-log rate limiter keyed by an
// arbitrary actor identifier. Unlike a fixed-window counter it cannot admit
// bursts across window boundaries: every decision evaluates the trailing
// window ending now.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter tracks recent event timestamps per key. The zero value is not
// usable; construct instances with New so each test and each service gets
// its own isolated state.
type Limiter struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	now     func() time.Time
	maxIdle time.Duration
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithMaxIdle sets how long an untouched key's log is kept before a sweep
// discards it entirely.
func WithMaxIdle(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.maxIdle = d
		}
	}
}

// New creates an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		events:  make(map[string][]time.Time),
		now:     time.Now,
		maxIdle: time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the key may act now and, if so, records the event.
// A request is allowed when fewer than limit events remain after discarding
// everything older than now-window. Unknown keys behave as fresh, empty logs;
// Allow never errors.
func (l *Limiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}
	now := l.now().UTC()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := pruneLog(l.events[key], cutoff)
	if len(log) >= limit {
		l.events[key] = log
		return false
	}
	l.events[key] = append(log, now)
	return true
}

// Remaining returns how many events the key may still record in the current
// window and when the oldest retained slot frees up. It never mutates state.
// For an empty log the reset time is now.
func (l *Limiter) Remaining(key string, limit int, window time.Duration) (int, time.Time) {
	now := l.now().UTC()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := pruneLog(l.events[key], cutoff)
	l.events[key] = log

	remaining := limit - len(log)
	if remaining < 0 {
		remaining = 0
	}
	if len(log) == 0 {
		return remaining, now
	}
	return remaining, log[0].Add(window)
}

// Reset forgets all events recorded for the key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, key)
}

// Sweep drops keys whose newest event is older than maxIdle. Pruning on
// access already keeps decisions correct; sweeping only bounds memory held
// by keys that stopped acting.
func (l *Limiter) Sweep() {
	now := l.now().UTC()
	cutoff := now.Add(-l.maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, log := range l.events {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(l.events, key)
		}
	}
}

// StartSweeping runs Sweep at the given interval until ctx ends.
func (l *Limiter) StartSweeping(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Len reports the number of tracked keys. Exposed for memory-bounding tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func pruneLog(log []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order, so find the first retained index.
	idx := 0
	for idx < len(log) && !log[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return log
	}
	return append(log[:0:0], log[idx:]...)
}
