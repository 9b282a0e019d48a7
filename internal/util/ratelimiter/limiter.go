package ratelimiter

import (
	"sync"
	"time"
)

// Throttle lets one action through per interval for each key. The engine
// keys it by job ID to bound how often progress is persisted and published.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewThrottle creates a keyed throttle with the given interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether key may act now. A refused call also returns how
// long until the key is allowed again.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, seen := t.last[key]; seen {
		if elapsed := now.Sub(last); elapsed < t.interval {
			return false, t.interval - elapsed
		}
	}
	t.last[key] = now
	return true, 0
}

// Forget drops key so its next action is allowed immediately.
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}
