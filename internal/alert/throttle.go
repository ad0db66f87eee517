package alert

import (
	"sync"
	"time"
)

// Throttle allows one event per key within a window. A zero window allows
// everything.
type Throttle struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{
		window: window,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

func (t *Throttle) Allow(key string) bool {
	if t == nil || t.window <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[key] = now
	return true
}
