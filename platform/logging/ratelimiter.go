package logging

import (
	"sync"
	"time"
)

// rateLimiter throttles a noisy event to at most one allowed call per
// interval. Grounded on gomind's telemetry.RateLimiter, used here to keep
// error-level logs from flooding during a sustained LLM or KV outage.
type rateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}
