package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter enforces a minimum gap between events per key with a
// one-token bucket: a token refills continuously over the configured
// interval, so bursts never exceed one event per interval per key.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	m        map[string]*bucket
	now      func() time.Time
}

func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Limiter{
		interval: interval,
		m:        make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow reports whether one event may pass for key right now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: 1, last: now}
		l.m[key] = b
	}

	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += float64(elapsed) / float64(l.interval)
		if b.tokens > 1 {
			b.tokens = 1
		}
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Forget drops per-key state, typically when the key's topic has no
// subscribers left.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}
