// Package ratelimit implements the per-backend, in-memory,
// per-process request limiter the Proxy Server consults before
// forwarding upstream.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry pairs a token-bucket limiter with the config it was built
// from, so a settings change (rate_limit_requests/minutes edited
// through the Control Surface) rebuilds it instead of silently
// keeping stale behavior.
type entry struct {
	limiter  *rate.Limiter
	requests int
	minutes  int
}

// Limiter tracks one bucket per backend name. A bucket refills over
// the configured window and holds the full quota as burst, which
// approximates sliding-window semantics closely enough for a
// single-process proxy: at most `requests` calls land in any
// `minutes`-long window, and Retry-After reports the wait for the next
// slot rather than a hard window boundary.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{entries: make(map[string]*entry)}
}

// Allow consults the bucket for backend, creating or rebuilding it if
// requests/minutes changed. A requests value of 0 disables limiting
// for that backend (always allowed).
func (l *Limiter) Allow(backend string, requests, minutes int) (allowed bool, retryAfter time.Duration) {
	if requests <= 0 {
		return true, 0
	}
	if minutes <= 0 {
		minutes = 1
	}

	l.mu.Lock()
	e, ok := l.entries[backend]
	if !ok || e.requests != requests || e.minutes != minutes {
		perSecond := rate.Limit(float64(requests) / (float64(minutes) * 60))
		e = &entry{
			limiter:  rate.NewLimiter(perSecond, requests),
			requests: requests,
			minutes:  minutes,
		}
		l.entries[backend] = e
	}
	limiter := e.limiter
	l.mu.Unlock()

	now := time.Now()
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Duration(minutes) * time.Minute
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// Reset drops a backend's bucket, used when its rate-limit settings
// are deleted entirely.
func (l *Limiter) Reset(backend string) {
	l.mu.Lock()
	delete(l.entries, backend)
	l.mu.Unlock()
}
