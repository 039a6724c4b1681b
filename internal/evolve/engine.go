// Package evolve adjusts strategy parameters from realized trading outcomes.
// Every adjustment produces a new immutable version; the caller decides when
// the successor actually takes effect.
package evolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Rules bounds how far and how fast evolution may move parameters.
type Rules struct {
	MinSampleTrades int
	WinRateFloor    float64
	AvgLossCap      float64
	ConfidenceStep  int
	RiskStep        float64
	MaxConfidence   int
	MinRiskPerTrade float64
	WindowDays      int
}

// Engine evaluates a strategy version's trailing performance and proposes a
// successor when a rule fires.
type Engine struct {
	events   domain.EventStore
	versions domain.StrategyVersionStore
	rules    Rules
	logger   *slog.Logger

	now func() time.Time
}

// New creates an evolution Engine.
func New(events domain.EventStore, versions domain.StrategyVersionStore, rules Rules, logger *slog.Logger) *Engine {
	return &Engine{
		events:   events,
		versions: versions,
		rules:    rules,
		logger:   logger.With("component", "evolve"),
		now:      time.Now,
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Seed returns the initial version built from params, appending it to the
// ledger. Called once when the ledger is empty.
func (e *Engine) Seed(ctx context.Context, params domain.StrategyParams) (domain.StrategyVersion, error) {
	v := domain.StrategyVersion{
		ID:           uuid.NewString(),
		Params:       params,
		ChangeReason: "seed",
		CreatedAt:    e.now().UTC(),
	}
	if err := e.versions.Append(ctx, v); err != nil {
		return domain.StrategyVersion{}, fmt.Errorf("evolve: seed version: %w", err)
	}
	e.logger.Info("seeded strategy version",
		"version_id", v.ID,
		"confidence_threshold", params.ConfidenceThreshold,
		"risk_per_trade", params.RiskPerTrade,
	)
	return v, nil
}

// Evaluate aggregates current's trailing-window performance and, when a rule
// fires, appends and returns a successor version. The second return is false
// when no change is warranted: too few trades, or all rules already at their
// bounds. The current version is never mutated.
func (e *Engine) Evaluate(ctx context.Context, current domain.StrategyVersion) (domain.StrategyVersion, bool, error) {
	until := e.now().UTC()
	since := until.AddDate(0, 0, -e.rules.WindowDays)

	perf, err := e.events.AggregatePerformance(ctx, current.ID, since, until)
	if err != nil {
		return domain.StrategyVersion{}, false, fmt.Errorf("evolve: aggregate performance: %w", err)
	}

	if perf.TradesExecuted < e.rules.MinSampleTrades {
		e.logger.Debug("insufficient sample, keeping version",
			"version_id", current.ID,
			"trades", perf.TradesExecuted,
			"min_sample", e.rules.MinSampleTrades,
		)
		return domain.StrategyVersion{}, false, nil
	}

	params := current.Params
	var reasons []string

	if perf.WinRate() < e.rules.WinRateFloor {
		raised := min(params.ConfidenceThreshold+e.rules.ConfidenceStep, e.rules.MaxConfidence)
		if raised != params.ConfidenceThreshold {
			reasons = append(reasons, fmt.Sprintf(
				"win rate %.2f below floor %.2f, confidence %d -> %d",
				perf.WinRate(), e.rules.WinRateFloor, params.ConfidenceThreshold, raised,
			))
			params.ConfidenceThreshold = raised
		}
	}

	if perf.AvgLoss() > e.rules.AvgLossCap {
		lowered := max(params.RiskPerTrade-e.rules.RiskStep, e.rules.MinRiskPerTrade)
		if lowered != params.RiskPerTrade {
			reasons = append(reasons, fmt.Sprintf(
				"avg loss %.2f above cap %.2f, risk %.4f -> %.4f",
				perf.AvgLoss(), e.rules.AvgLossCap, params.RiskPerTrade, lowered,
			))
			params.RiskPerTrade = lowered
		}
	}

	if len(reasons) == 0 {
		return domain.StrategyVersion{}, false, nil
	}

	next := domain.StrategyVersion{
		ID:           uuid.NewString(),
		ParentID:     current.ID,
		Params:       params,
		ChangeReason: strings.Join(reasons, "; "),
		CreatedAt:    until,
	}
	if err := e.versions.Append(ctx, next); err != nil {
		return domain.StrategyVersion{}, false, fmt.Errorf("evolve: append version: %w", err)
	}

	ev := domain.Event{
		Type:      domain.EventVersionChange,
		VersionID: next.ID,
		Detail: map[string]any{
			"parent_id":            current.ID,
			"change_reason":        next.ChangeReason,
			"confidence_threshold": params.ConfidenceThreshold,
			"risk_per_trade":       params.RiskPerTrade,
			"win_rate":             perf.WinRate(),
			"avg_loss":             perf.AvgLoss(),
			"trades_executed":      perf.TradesExecuted,
		},
		Day:       domain.EventDay(until),
		CreatedAt: until,
	}
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Warn("failed to record version change event", "error", err)
	}

	e.logger.Info("strategy version evolved",
		"version_id", next.ID,
		"parent_id", current.ID,
		"reason", next.ChangeReason,
	)
	return next, true, nil
}
