// Package ratelimit keeps per-key token buckets in memory, with opportunistic
// eviction of idle keys to bound memory. It backs both the HTTP rate-limit
// middleware (keyed by client) and the per-user limit on chat events (keyed
// by canonical user id).
//
// Buckets are process-local; horizontally scaled deployments get one budget
// per process.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL = 10 * time.Minute
	gcEvery        = 5000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Buckets maps keys to token-bucket limiters. Safe for concurrent use.
type Buckets struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
	now      func() time.Time
}

// New returns Buckets refilling rps tokens per second up to burst. A
// non-positive burst is coerced to 1.
func New(rps float64, burst int) *Buckets {
	if burst <= 0 {
		burst = 1
	}
	return &Buckets{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      defaultIdleTTL,
		now:      time.Now,
	}
}

// WithIdleTTL changes how long an unused key is kept.
func (b *Buckets) WithIdleTTL(ttl time.Duration) *Buckets {
	if ttl > 0 {
		b.ttl = ttl
	}
	return b
}

// Allow consumes one token for key and reports whether it was available.
func (b *Buckets) Allow(key string) bool {
	return b.limiter(key).Allow()
}

// Len reports the number of tracked keys.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visitors)
}

// limiter returns the bucket for key, creating it if absent. Idle keys are
// swept every gcEvery lookups, before the requested key is refreshed, so an
// idle key can be evicted even when it is the one being fetched.
func (b *Buckets) limiter(key string) *rate.Limiter {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lookups++
	if b.lookups >= gcEvery {
		for k, v := range b.visitors {
			if now.Sub(v.lastSeen) >= b.ttl {
				delete(b.visitors, k)
			}
		}
		b.lookups = 0
	}

	if v, ok := b.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(b.rps, b.burst)
	b.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
