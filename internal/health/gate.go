// Package health tracks per-service availability and windowed call budgets.
// Every component consults the gate before an external call and reports the
// outcome after, so a downed or rate-limited dependency degrades the cycle
// instead of burning its time budget on doomed retries.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Budget is one service's call allowance per window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Config holds the per-service budgets and the failure trip threshold.
type Config struct {
	Budgets map[domain.Service]Budget
	// FailureTrip is the consecutive-failure count that flips a service to
	// unavailable. The canonical value is 3.
	FailureTrip int
	// ProbeAfter is how long an unavailable service stays fully blocked
	// before the gate lets a single probe call through.
	ProbeAfter time.Duration
}

// Gate is the shared health/rate component. Budget accounting is delegated to
// an injected RateLimiter so tests can substitute deterministic budgets and
// production can share windows across processes via redis.
type Gate struct {
	limiter domain.RateLimiter
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	states map[domain.Service]*state
	now    func() time.Time
}

type state struct {
	available   bool
	fails       int
	lastError   string
	lastFailure time.Time
	probing     bool
	windowReset time.Time
	remaining   int
}

// NewGate creates a Gate with all services initially available.
func NewGate(limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Gate {
	if cfg.FailureTrip <= 0 {
		cfg.FailureTrip = 3
	}
	if cfg.ProbeAfter <= 0 {
		cfg.ProbeAfter = time.Minute
	}

	g := &Gate{
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "health_gate")),
		states:  make(map[domain.Service]*state),
		now:     time.Now,
	}
	for svc := range cfg.Budgets {
		g.states[svc] = &state{available: true}
	}
	return g
}

// Check reports whether a call to the service may proceed. It returns false
// when the service has tripped unavailable or its call budget is exhausted;
// the caller must then skip or defer rather than call. A tripped service lets
// one probe call through after the probe cooldown so recovery is observable.
func (g *Gate) Check(ctx context.Context, svc domain.Service) bool {
	st := g.stateFor(svc)

	g.mu.Lock()
	if !st.available {
		if st.probing || g.now().Sub(st.lastFailure) < g.cfg.ProbeAfter {
			g.mu.Unlock()
			return false
		}
		// Let a single probe through.
		st.probing = true
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()

	budget, ok := g.cfg.Budgets[svc]
	if !ok || budget.Limit <= 0 {
		return true
	}

	allowed, err := g.limiter.Allow(ctx, "svc:"+string(svc), budget.Limit, budget.Window)
	if err != nil {
		// A broken limiter must not halt trading; log and allow.
		g.logger.Warn("rate limiter error, allowing call",
			slog.String("service", string(svc)),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !allowed {
		g.mu.Lock()
		st.remaining = 0
		st.windowReset = g.now().Add(budget.Window)
		g.mu.Unlock()

		g.logger.Warn("call budget exhausted",
			slog.String("service", string(svc)),
		)
	}
	return allowed
}

// Record reports the outcome of a call attempt. A nil error resets the
// failure streak and restores availability; reaching the trip threshold of
// consecutive failures flips the service to unavailable.
func (g *Gate) Record(svc domain.Service, callErr error) {
	st := g.stateFor(svc)

	g.mu.Lock()
	defer g.mu.Unlock()

	st.probing = false

	if callErr == nil {
		if !st.available {
			g.logger.Info("service recovered", slog.String("service", string(svc)))
		}
		st.available = true
		st.fails = 0
		st.lastError = ""
		return
	}

	st.fails++
	st.lastError = callErr.Error()
	st.lastFailure = g.now()

	if st.available && st.fails >= g.cfg.FailureTrip {
		st.available = false
		g.logger.Warn("service tripped unavailable",
			slog.String("service", string(svc)),
			slog.Int("consecutive_failures", st.fails),
			slog.String("error", callErr.Error()),
		)
	}
}

// MarkDegraded forces a service unavailable immediately, used when a quota
// response tells us further calls are pointless for the rest of the window.
func (g *Gate) MarkDegraded(svc domain.Service, reason string) {
	st := g.stateFor(svc)

	g.mu.Lock()
	defer g.mu.Unlock()
	st.available = false
	st.lastError = reason
	st.lastFailure = g.now()
}

// State returns a snapshot of one service's health.
func (g *Gate) State(svc domain.Service) domain.HealthState {
	st := g.stateFor(svc)

	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.HealthState{
		Service:        svc,
		Available:      st.available,
		LastError:      st.lastError,
		CallsRemaining: st.remaining,
		WindowResetAt:  st.windowReset,
	}
}

// Available reports whether the service is currently considered up.
func (g *Gate) Available(svc domain.Service) bool {
	st := g.stateFor(svc)
	g.mu.Lock()
	defer g.mu.Unlock()
	return st.available
}

func (g *Gate) stateFor(svc domain.Service) *state {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[svc]
	if !ok {
		st = &state{available: true}
		g.states[svc] = st
	}
	return st
}

// SetClock overrides the time source. Test hook.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}
