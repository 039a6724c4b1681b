// Package memory provides an in-process rate limiter for redis-less runs and
// deterministic tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// RateLimiter implements domain.RateLimiter with per-key sliding windows held
// in process memory. Budgets are not shared across processes; production
// deployments with multiple instances should use the redis implementation.
type RateLimiter struct {
	mu    sync.Mutex
	calls map[string][]time.Time
	now   func() time.Time
}

// NewRateLimiter creates an empty in-memory limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		calls: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Allow counts a request against the key's sliding window and reports whether
// it fits within limit.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)

	kept := rl.calls[key][:0]
	for _, t := range rl.calls[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		rl.calls[key] = kept
		return false, nil
	}

	rl.calls[key] = append(kept, now)
	return true, nil
}

// Wait blocks until a 1/sec request for key is allowed or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetClock overrides the time source. Test hook.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.now = now
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
