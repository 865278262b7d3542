// Package rate limits requests per key with token buckets.
package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// maxIdle is how long an unused bucket is kept once the table is large.
const (
	maxIdle    = 10 * time.Minute
	sweepAbove = 10000
)

type Limiter interface {
	// Allow spends one token from key's bucket, which refills at perMinute
	// tokens a minute. When it is empty Allow reports how long to wait.
	Allow(key string, perMinute int) (bool, time.Duration)
}

type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter   *xrate.Limiter
	perMinute int
	lastSeen  time.Time
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryLimiter) Allow(key string, perMinute int) (bool, time.Duration) {
	if perMinute <= 0 {
		return true, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok || b.perMinute != perMinute {
		if len(m.buckets) >= sweepAbove {
			m.sweep(now)
		}
		b = &bucket{
			limiter:   xrate.NewLimiter(xrate.Every(time.Minute/time.Duration(perMinute)), perMinute),
			perMinute: perMinute,
		}
		m.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(m.buckets, key)
		}
	}
}
