package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginThrottle counts failed logins per client IP in a sliding window.
// A zero max disables it.
type loginThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[string][]time.Time
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	return &loginThrottle{max: limit, window: window, failures: make(map[string][]time.Time)}
}

// Blocked reports whether ip is over the limit and how long until the oldest failure expires.
func (t *loginThrottle) Blocked(ip net.IP, now time.Time) (bool, time.Duration) {
	if t.max <= 0 || ip == nil {
		return false, 0
	}
	key := ip.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.pruneLocked(key, now)
	if len(kept) < t.max {
		return false, 0
	}
	return true, kept[0].Add(t.window).Sub(now)
}

func (t *loginThrottle) Fail(ip net.IP, now time.Time) {
	if t.max <= 0 || ip == nil {
		return
	}
	key := ip.String()

	t.mu.Lock()
	t.failures[key] = append(t.pruneLocked(key, now), now)
	t.mu.Unlock()
}

func (t *loginThrottle) Reset(ip net.IP) {
	if ip == nil {
		return
	}
	t.mu.Lock()
	delete(t.failures, ip.String())
	t.mu.Unlock()
}

func (t *loginThrottle) pruneLocked(key string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	events := t.failures[key]
	kept := events[:0]
	for _, e := range events {
		if e.After(cut) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = kept
	return kept
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
