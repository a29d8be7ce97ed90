package inference

import (
	"sync"
	"time"
)

// WindowLimiter enforces a maximum number of requests per sliding one-minute
// window. Unlike a token bucket it gives rejected callers an exact wait hint:
// the time until the oldest timestamp leaves the window.
//
// The check and the timestamp append are atomic with respect to concurrent
// callers.
type WindowLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	max        int
	window     time.Duration

	now func() time.Time // injectable clock for tests
}

// NewWindowLimiter creates a limiter allowing maxPerMinute requests per
// rolling minute.
func NewWindowLimiter(maxPerMinute int) *WindowLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = 30
	}
	return &WindowLimiter{
		max:    maxPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow records the request if the window has room, or returns a
// *RateLimitError with the wait until a slot frees.
func (l *WindowLimiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Drop timestamps that left the window.
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) >= l.max {
		return &RateLimitError{Wait: l.timestamps[0].Sub(cutoff)}
	}

	l.timestamps = append(l.timestamps, now)
	return nil
}

// Pending returns the number of requests currently counted in the window.
func (l *WindowLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
