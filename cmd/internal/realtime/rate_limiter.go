package realtime

import (
	"sync"
	"time"
)

// rateLimiter admits at most len(ring) frames per sliding window. Accepted timestamps live
// in a ring ordered oldest to newest.
type rateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	head   int // oldest entry
	size   int
	window time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{ring: make([]time.Time, max(limit, 1)), window: window}
}

func (r *rateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	for r.size > 0 && !r.ring[r.head].After(cut) {
		r.head = (r.head + 1) % len(r.ring)
		r.size--
	}
	if r.size == len(r.ring) {
		return false
	}

	r.ring[(r.head+r.size)%len(r.ring)] = now
	r.size++
	return true
}
