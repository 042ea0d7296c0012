package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds how many events a connection may emit per sliding
// window. It keeps the timestamps of the last `limit` permitted events in a
// fixed ring: the slot about to be overwritten is exactly the event `limit`
// admissions ago, so one comparison answers whether the window is full.
// Denied events are not recorded and do not extend the lockout.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

// NewRateLimiter constructs a limiter admitting at most limit events per
// window. Non-positive inputs fall back to the gateway defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at now is admitted, recording it if so.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldest := r.ring[r.next]; !oldest.IsZero() && now.Sub(oldest) < r.window {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true
}
