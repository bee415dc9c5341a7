// Package ratelimit provides per-caller token buckets for the request
// pipeline.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the bucket parameters shared by every caller.
type Config struct {
	// Capacity is the bucket size (burst).
	Capacity int
	// RefillEvery is the interval at which RefillAmount tokens return.
	RefillEvery time.Duration
	// RefillAmount is how many tokens return per interval.
	RefillAmount int
}

// DefaultConfig mirrors the shipped defaults: 30 requests, one back per
// two seconds.
func DefaultConfig() Config {
	return Config{Capacity: 30, RefillEvery: 2 * time.Second, RefillAmount: 1}
}

// Decision is the outcome of one consume call.
type Decision struct {
	Allowed      bool  `json:"allowed"`
	Remaining    int   `json:"remaining"`
	MsUntilReset int64 `json:"msUntilReset"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per caller identity.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	limit   rate.Limit
	buckets map[string]*bucket
}

// New creates a limiter. Zero-valued config fields fall back to defaults.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RefillEvery <= 0 {
		cfg.RefillEvery = def.RefillEvery
	}
	if cfg.RefillAmount <= 0 {
		cfg.RefillAmount = def.RefillAmount
	}
	return &Limiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.RefillAmount) / cfg.RefillEvery.Seconds()),
		buckets: make(map[string]*bucket),
	}
}

// Consume takes one token for the caller, reporting the remaining budget or
// the wait until a token returns.
func (l *Limiter) Consume(id string) Decision {
	l.mu.Lock()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.cfg.Capacity)}
		l.buckets[id] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	res := b.limiter.Reserve()
	if !res.OK() {
		return Decision{Allowed: false, MsUntilReset: l.cfg.RefillEvery.Milliseconds()}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, MsUntilReset: delay.Milliseconds()}
	}
	remaining := int(b.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// EvictExpired drops buckets unused for more than ten refill intervals.
// Returns the number evicted.
func (l *Limiter) EvictExpired() int {
	cutoff := time.Now().Add(-10 * l.cfg.RefillEvery)
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
			evicted++
		}
	}
	return evicted
}

// Sweep evicts expired buckets periodically until ctx is done.
func (l *Limiter) Sweep(ctx context.Context) {
	interval := 10 * l.cfg.RefillEvery
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.EvictExpired()
		}
	}
}

// BucketCount reports how many callers currently hold buckets.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
