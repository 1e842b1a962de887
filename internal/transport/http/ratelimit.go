package http

import (
	"sync"
	"time"
)

// rateLimiter allows limit commands per window for one connection.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counter int
	started time.Time
	now     func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.started.IsZero() || now.Sub(r.started) >= r.window {
		r.started = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
