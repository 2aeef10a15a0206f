// ratelimit.go implements token-bucket rate limiting for the venue's REST
// APIs. Limits are published per 10-second window; the buckets refill
// continuously (rather than in 10s bursts) to avoid hitting hard limits.
//
// Three buckets are maintained:
//   - Order:  350 burst / 50 per sec (maps to the 3500/10s limit)
//   - Cancel: 300 burst / 30 per sec (maps to the 3000/10s limit)
//   - Meta:   1 burst / 10 per sec — metadata lookups paced ~100ms apart
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by REST endpoint category.
type RateLimiter struct {
	Order  *TokenBucket // POST /order — placing new orders
	Cancel *TokenBucket // DELETE /order — cancellations
	Meta   *TokenBucket // market metadata lookups
}

// NewRateLimiter creates rate limiters tuned to the venue's published limits.
// Capacities are set to the 10-second burst allowance, rates to 1/10th for
// smooth refill; the Meta bucket holds no burst so lookups are paced.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(350, 50),
		Cancel: NewTokenBucket(300, 30),
		Meta:   NewTokenBucket(1, 10),
	}
}
