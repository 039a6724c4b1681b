// Package redis backs the call-budget limiter with a Redis sliding window.
package redis

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is the fixed polling cadence used by Wait.
const waitPollInterval = 50 * time.Millisecond

// Config holds connection parameters for the limiter's Redis backend.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// RateLimiter implements domain.RateLimiter with sorted-set sliding windows
// maintained by an atomic Lua script. Budgets live in Redis, so they hold
// across restarts and across several bot instances sharing one brokerage
// account. The limiter owns its connection; callers close it on shutdown.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// New connects to Redis, verifies the connection with a ping, and returns a
// ready limiter.
func New(ctx context.Context, cfg Config) (*RateLimiter, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RateLimiter{
		rdb:           rdb,
		slidingWindow: redis.NewScript(slidingWindowLua),
	}, nil
}

// Close releases the underlying connection pool.
func (rl *RateLimiter) Close() error {
	return rl.rdb.Close()
}

func budgetKey(key string) string {
	return "budget:" + key
}

// Allow reports whether a call under the given budget key is permitted right
// now. An allowed call is counted against the window; a denied call is not.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{budgetKey(key)},
		now,
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: budget allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: budget allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks until a call for the given key is allowed, polling at a fixed
// interval. It uses a budget of one call per second; callers with wider
// budgets should drive Allow themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: budget wait %s: %w", key, ctx.Err())
		default:
		}

		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: budget wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
