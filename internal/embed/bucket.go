package embed

import (
	"context"
	"sync"
	"time"
)

// tokenBucket rate-limits embedding requests. Capacity equals the
// per-minute rate; refill is continuous at rate/60 tokens per second.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	last       time.Time
	now        func() time.Time
}

func newTokenBucket(ratePerMinute int) *tokenBucket {
	capacity := float64(ratePerMinute)
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: capacity / 60.0,
		last:       time.Now(),
		now:        time.Now,
	}
}

func (b *tokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
}

// acquire consumes n tokens iff that many are available.
func (b *tokenBucket) acquire(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// available returns the current whole-token count.
func (b *tokenBucket) available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return int(b.tokens)
}

// waitForToken sleeps in refill-interval steps until one token can be
// consumed or the context is cancelled.
func (b *tokenBucket) waitForToken(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / b.refillRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	for {
		if b.acquire(1) {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
