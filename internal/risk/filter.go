// Package risk evaluates parsed signals against account state and the active
// strategy parameters before any capital is committed.
package risk

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Filter applies the ordered rejection rules and position sizing. Every
// decision, approved or not, is appended to the event log before being
// returned; rejection visibility feeds strategy evolution later.
type Filter struct {
	events domain.EventStore
	logger *slog.Logger
}

// NewFilter creates a Filter that records decisions through events.
func NewFilter(events domain.EventStore, logger *slog.Logger) *Filter {
	return &Filter{
		events: events,
		logger: logger.With(slog.String("component", "risk_filter")),
	}
}

// Evaluate produces one decision per signal, in input order. Rules are
// evaluated in a fixed order and the first failing rule wins:
//
//  1. HOLD action
//  2. confidence below threshold
//  3. missing or non-positive price
//  4. open position in the same symbol and direction
//  5. computed position size rounds to zero
func (f *Filter) Evaluate(ctx context.Context, signals []domain.Signal, acct domain.Account, version domain.StrategyVersion) []domain.RiskDecision {
	decisions := make([]domain.RiskDecision, 0, len(signals))
	for i := range signals {
		d := f.evaluateOne(&signals[i], acct, version.Params)
		f.record(ctx, d, version.ID)
		decisions = append(decisions, d)
	}
	return decisions
}

func (f *Filter) evaluateOne(sig *domain.Signal, acct domain.Account, params domain.StrategyParams) domain.RiskDecision {
	reject := func(r domain.RejectReason) domain.RiskDecision {
		return domain.RiskDecision{Signal: sig, Reason: r}
	}

	if sig.Action == domain.ActionHold {
		return reject(domain.RejectHold)
	}
	if sig.Confidence < params.ConfidenceThreshold {
		return reject(domain.RejectLowConfidence)
	}
	if sig.Price <= 0 {
		return reject(domain.RejectInvalidPrice)
	}
	if pos, ok := acct.PositionIn(sig.Symbol); ok && sameDirection(pos, sig.Action) {
		// One concurrent position per symbol; no pyramiding.
		return reject(domain.RejectDuplicate)
	}

	size := PositionSize(acct, params, sig)
	if size <= 0 {
		return reject(domain.RejectZeroSize)
	}

	return domain.RiskDecision{Signal: sig, Approved: true, PositionSize: size}
}

// PositionSize computes the share quantity for an approved signal:
// equity * risk_per_trade / stop_distance, floored to whole shares and
// clamped so the total cost never exceeds buying power. When the signal
// carries no stop, the stop distance defaults to price * default_stop_pct.
func PositionSize(acct domain.Account, params domain.StrategyParams, sig *domain.Signal) int64 {
	stopDistance := math.Abs(sig.Price - sig.StopLoss)
	if sig.StopLoss <= 0 {
		stopDistance = sig.Price * params.DefaultStopPct
	}
	if stopDistance <= 0 {
		return 0
	}

	size := int64(math.Floor(acct.Equity * params.RiskPerTrade / stopDistance))

	if maxAffordable := int64(math.Floor(acct.BuyingPower / sig.Price)); size > maxAffordable {
		size = maxAffordable
	}
	if size < 0 {
		return 0
	}
	return size
}

func sameDirection(pos domain.Position, action domain.SignalAction) bool {
	switch action {
	case domain.ActionBuy:
		return pos.Qty > 0
	case domain.ActionSell:
		return pos.Qty < 0
	}
	return false
}

// record appends the decision to the event log. A storage failure is logged
// and does not block the pipeline; the decision still stands.
func (f *Filter) record(ctx context.Context, d domain.RiskDecision, versionID string) {
	ev := domain.Event{
		VersionID: versionID,
		Symbol:    d.Signal.Symbol,
		Day:       domain.EventDay(time.Now()),
		Detail: map[string]any{
			"signal_id":  d.Signal.ID,
			"action":     string(d.Signal.Action),
			"price":      d.Signal.Price,
			"confidence": d.Signal.Confidence,
			"approved":   d.Approved,
		},
	}
	if d.Approved {
		ev.Type = domain.EventSignalGenerated
		ev.Detail["position_size"] = d.PositionSize
	} else {
		ev.Type = domain.EventSignalRejected
		ev.Detail["rejection_reason"] = string(d.Reason)
	}

	if err := f.events.Append(ctx, ev); err != nil {
		f.logger.ErrorContext(ctx, "failed to record risk decision",
			slog.String("signal_id", d.Signal.ID),
			slog.String("error", err.Error()),
		)
	}
}
