// Package ratelimit throttles clients of the proxy endpoint.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket refills one token every refillEvery up to capacity, per key.
type TokenBucket struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	capacity    int
	refillEvery time.Duration
	idleAfter   time.Duration
	now         func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewTokenBucket allows perMinute requests per key per minute with bursts up
// to perMinute.
func NewTokenBucket(perMinute int) *TokenBucket {
	if perMinute < 1 {
		perMinute = 1
	}
	return &TokenBucket{
		buckets:     make(map[string]*bucket),
		capacity:    perMinute,
		refillEvery: time.Minute / time.Duration(perMinute),
		idleAfter:   time.Hour,
		now:         time.Now,
	}
}

// Limit returns the configured requests per minute
func (l *TokenBucket) Limit() int {
	return l.capacity
}

// Allow takes a token for key if one is available
func (l *TokenBucket) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if earned := int(now.Sub(b.lastRefill) / l.refillEvery); earned > 0 {
		b.tokens = min(b.tokens+earned, l.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(earned) * l.refillEvery)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Reset forgets key
func (l *TokenBucket) Reset(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// StartCleanup drops idle buckets every interval until ctx is done
func (l *TokenBucket) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *TokenBucket) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleAfter {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
