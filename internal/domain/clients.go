package domain

import (
	"context"
	"time"
)

// MarketData fetches OHLCV history for one symbol. Implementations surface
// transient failures as ErrTransport-wrapped errors.
type MarketData interface {
	FetchBars(ctx context.Context, symbol, interval, span string) ([]Bar, error)
}

// AICompleter produces a raw text completion for a prompt. Rate-limit
// exhaustion is surfaced as ErrQuotaExceeded so the health gate can react
// differently from a transport fault.
type AICompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Broker is the already-authenticated brokerage client consumed by the
// execution engine and risk filter.
type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error)
	GetOrder(ctx context.Context, brokerID string) (FillEvent, OrderState, error)
	CancelOrder(ctx context.Context, brokerID string) error
}

// RateLimiter provides windowed call budgets, shared across all components.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
