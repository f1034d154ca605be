package backpressure

import (
	"math"
	"sync"
	"time"
)

type RateLimiter interface {
	Allow() bool
	AllowN(n int) bool
	Limit() float64
	Burst() int
}

// TokenBucketLimiter refills rate tokens per second up to burst
type TokenBucketLimiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mutex      sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	return newTokenBucketLimiter(rate, burst, time.Now)
}

func newTokenBucketLimiter(rate float64, burst int, now func() time.Time) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1.0
	}
	if burst <= 0 {
		burst = 1
	}

	return &TokenBucketLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

// Allow checks if a single operation is allowed
func (tb *TokenBucketLimiter) Allow() bool {
	return tb.AllowN(1)
}

// AllowN checks if n operations are allowed and takes the tokens if so
func (tb *TokenBucketLimiter) AllowN(n int) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

func (tb *TokenBucketLimiter) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(float64(tb.burst), tb.tokens+elapsed*tb.rate)
	tb.lastUpdate = now
}

func (tb *TokenBucketLimiter) Limit() float64 {
	return tb.rate
}

func (tb *TokenBucketLimiter) Burst() int {
	return tb.burst
}

// KeyedLimiter keeps one token bucket per key, e.g. per client IP.
// Buckets idle for longer than the TTL are evicted.
type KeyedLimiter struct {
	rate    float64
	burst   int
	ttl     time.Duration
	now     func() time.Time
	mutex   sync.Mutex
	buckets map[string]*keyedBucket
	calls   int
}

type keyedBucket struct {
	limiter  *TokenBucketLimiter
	lastSeen time.Time
}

const sweepEvery = 1024

func NewKeyedLimiter(rate float64, burst int, ttl time.Duration) *KeyedLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeyedLimiter{
		rate:    rate,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		buckets: make(map[string]*keyedBucket),
	}
}

// Allow takes one token from key's bucket
func (k *KeyedLimiter) Allow(key string) bool {
	k.mutex.Lock()
	now := k.now()

	k.calls++
	if k.calls%sweepEvery == 0 {
		k.sweep(now)
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &keyedBucket{limiter: newTokenBucketLimiter(k.rate, k.burst, k.now)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mutex.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of tracked keys
func (k *KeyedLimiter) Len() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.buckets)
}

func (k *KeyedLimiter) sweep(now time.Time) {
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) > k.ttl {
			delete(k.buckets, key)
		}
	}
}
