// Package executor turns approved risk decisions into broker orders and
// tracks each order's lifecycle to a terminal state. Fill notifications
// arrive asynchronously (stream or polling) while the next trading cycle may
// already be running, so all order mutation goes through a per-order mutex
// and readers only ever see fully-applied states.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Config bounds submission retries and the partial-fill watch window.
type Config struct {
	SubmitRetries int           // attempts per order, >= 1
	RetryBaseWait time.Duration // first backoff step
	RetryMaxWait  time.Duration // cap on cumulative backoff wait
	PartialWatch  time.Duration // how long a partial fill may stay open
	PollInterval  time.Duration // order status poll cadence
}

// Engine owns every order for the duration of its lifecycle. Once an order
// reaches a terminal state it is flushed to the event log as an immutable
// record and only snapshots remain readable.
type Engine struct {
	broker domain.Broker
	events domain.EventStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	orders   map[string]*tracked // internal id -> order
	byBroker map[string]*tracked // broker id -> order
}

// tracked wraps one order with its exclusive mutation lock.
type tracked struct {
	mu sync.Mutex
	o  domain.Order
	// versionID and entryPrice travel with the order for event flushing.
	versionID  string
	entryPrice float64
	confidence int
	watchFrom  time.Time // when the first partial fill was observed
}

// NewEngine creates an Engine submitting through broker and flushing records
// to events.
func NewEngine(broker domain.Broker, events domain.EventStore, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		broker:   broker,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		now:      time.Now,
		orders:   make(map[string]*tracked),
		byBroker: make(map[string]*tracked),
	}
}

// Execute submits one order for an approved decision and tracks it. The
// returned snapshot reflects the state after submission (SUBMITTED, REJECTED,
// or ERROR when retries were exhausted). entryPrice carries the average entry
// of the position this order closes, zero when opening a new one.
func (e *Engine) Execute(ctx context.Context, d domain.RiskDecision, versionID string, entryPrice float64) (domain.Order, error) {
	if !d.Approved {
		return domain.Order{}, fmt.Errorf("executor: decision for %s is not approved", d.Signal.Symbol)
	}

	side := domain.OrderSideBuy
	if d.Signal.Action == domain.ActionSell {
		side = domain.OrderSideSell
	}

	t := &tracked{
		o: domain.Order{
			ID:           uuid.New().String(),
			Symbol:       d.Signal.Symbol,
			Side:         side,
			RequestedQty: d.PositionSize,
			ReqPrice:     d.Signal.Price,
			State:        domain.OrderPendingSubmit,
			SignalID:     d.Signal.ID,
			CreatedAt:    e.now().UTC(),
			UpdatedAt:    e.now().UTC(),
		},
		versionID:  versionID,
		entryPrice: entryPrice,
		confidence: d.Signal.Confidence,
	}

	e.mu.Lock()
	e.orders[t.o.ID] = t
	e.mu.Unlock()

	e.submit(ctx, t)
	return e.snapshotOf(t), nil
}

// submit attempts submission with exponential backoff on transport faults.
// Broker rejections are terminal immediately; resubmitting a rejected order
// risks a double fill, so they are never retried.
func (e *Engine) submit(ctx context.Context, t *tracked) {
	log := e.logger.With(
		slog.String("order_id", t.o.ID),
		slog.String("symbol", t.o.Symbol),
		slog.String("side", string(t.o.Side)),
	)

	req := domain.OrderRequest{
		Symbol:      t.o.Symbol,
		Side:        t.o.Side,
		Qty:         t.o.RequestedQty,
		LimitPrice:  t.o.ReqPrice,
		TimeInForce: "day",
	}

	var (
		wait    = e.cfg.RetryBaseWait
		waited  time.Duration
		lastErr error
	)

	for attempt := 1; attempt <= e.cfg.SubmitRetries; attempt++ {
		res, err := e.broker.SubmitOrder(ctx, req)
		if err == nil {
			if !res.Accepted {
				log.Warn("order rejected by broker", slog.String("message", res.Message))
				e.transition(ctx, t, func(o *domain.Order) {
					o.State = domain.OrderRejected
					o.FailReason = res.Message
				})
				return
			}

			e.transition(ctx, t, func(o *domain.Order) {
				o.BrokerID = res.BrokerID
				o.State = domain.OrderSubmitted
			})

			e.mu.Lock()
			e.byBroker[res.BrokerID] = t
			e.mu.Unlock()

			log.Info("order submitted", slog.String("broker_id", res.BrokerID))
			return
		}

		if errors.Is(err, domain.ErrBrokerRejected) {
			log.Warn("order rejected by broker", slog.String("error", err.Error()))
			e.transition(ctx, t, func(o *domain.Order) {
				o.State = domain.OrderRejected
				o.FailReason = err.Error()
			})
			return
		}

		lastErr = err
		if attempt == e.cfg.SubmitRetries || waited+wait > e.cfg.RetryMaxWait {
			break
		}

		log.Warn("submission failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			e.transition(ctx, t, func(o *domain.Order) {
				o.State = domain.OrderError
				o.FailReason = ctx.Err().Error()
			})
			return
		case <-time.After(wait):
		}
		waited += wait
		wait *= 2
	}

	// Retries exhausted: reported, not silently dropped.
	log.Error("submission retries exhausted", slog.String("error", lastErr.Error()))
	e.transition(ctx, t, func(o *domain.Order) {
		o.State = domain.OrderError
		o.FailReason = lastErr.Error()
	})
}

// ApplyFill applies an asynchronous fill notification. Fills carry cumulative
// quantities, so out-of-order or repeated delivery is idempotent: a fill that
// does not increase the recorded quantity is a no-op.
func (e *Engine) ApplyFill(ctx context.Context, fill domain.FillEvent) {
	t := e.lookupBroker(fill.BrokerID)
	if t == nil {
		e.logger.Debug("fill for unknown order", slog.String("broker_id", fill.BrokerID))
		return
	}

	t.mu.Lock()
	if t.o.State.Terminal() || fill.TotalQty <= t.o.FilledQty {
		t.mu.Unlock()
		return
	}

	qty := fill.TotalQty
	if qty > t.o.RequestedQty {
		qty = t.o.RequestedQty
	}
	t.o.FilledQty = qty
	if fill.AvgPrice > 0 {
		t.o.FilledPrice = fill.AvgPrice
	}
	if qty == t.o.RequestedQty {
		t.o.State = domain.OrderFilled
	} else {
		t.o.State = domain.OrderPartiallyFilled
		if t.watchFrom.IsZero() {
			t.watchFrom = e.now().UTC()
		}
	}
	t.o.UpdatedAt = e.now().UTC()
	snap := t.o
	t.mu.Unlock()

	e.recordState(ctx, t, snap)
	if snap.State.Terminal() {
		e.flushTerminal(ctx, t, snap)
	}
}

// ApplyBrokerState applies a cancel/reject notification from the broker
// stream. Terminal states absorb; no event can move an order backwards.
func (e *Engine) ApplyBrokerState(ctx context.Context, brokerID string, state domain.OrderState, reason string) {
	t := e.lookupBroker(brokerID)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.o.State.Terminal() || !state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.o.State = state
	t.o.FailReason = reason
	t.o.UpdatedAt = e.now().UTC()
	snap := t.o
	t.mu.Unlock()

	e.recordState(ctx, t, snap)
	e.flushTerminal(ctx, t, snap)
}

// Cancel requests cancellation of the unfilled remainder of an order.
func (e *Engine) Cancel(ctx context.Context, brokerID string) error {
	t := e.lookupBroker(brokerID)
	if t == nil {
		return domain.ErrNotFound
	}

	if err := e.broker.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("executor: cancel %s: %w", brokerID, err)
	}
	e.ApplyBrokerState(ctx, brokerID, domain.OrderCancelled, "cancel requested")
	return nil
}

// Watch polls open orders until ctx is cancelled. It serves as the fill path
// when the broker stream is down, and enforces the partial-fill watch window
// by cancelling remainders that linger too long.
func (e *Engine) Watch(ctx context.Context) error {
	e.logger.Info("order watcher started")
	defer e.logger.Info("order watcher stopped")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	for _, snap := range e.OpenOrders() {
		if snap.BrokerID == "" {
			continue
		}

		fill, state, err := e.broker.GetOrder(ctx, snap.BrokerID)
		if err != nil {
			e.logger.Warn("order status poll failed",
				slog.String("broker_id", snap.BrokerID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if fill.TotalQty > 0 {
			e.ApplyFill(ctx, fill)
		}
		if state.Terminal() && state != domain.OrderFilled {
			e.ApplyBrokerState(ctx, snap.BrokerID, state, "reported by broker")
		}

		e.enforceWatchWindow(ctx, snap.BrokerID)
	}
}

// enforceWatchWindow cancels the remainder of a partial fill that has been
// open longer than the configured window.
func (e *Engine) enforceWatchWindow(ctx context.Context, brokerID string) {
	t := e.lookupBroker(brokerID)
	if t == nil {
		return
	}

	t.mu.Lock()
	expired := t.o.State == domain.OrderPartiallyFilled &&
		!t.watchFrom.IsZero() &&
		e.now().Sub(t.watchFrom) > e.cfg.PartialWatch
	t.mu.Unlock()

	if !expired {
		return
	}

	e.logger.Info("partial fill watch window expired, cancelling remainder",
		slog.String("broker_id", brokerID),
	)
	if err := e.Cancel(ctx, brokerID); err != nil {
		e.logger.Warn("remainder cancel failed",
			slog.String("broker_id", brokerID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns a snapshot of the order with the given internal id.
func (e *Engine) Get(id string) (domain.Order, bool) {
	e.mu.RLock()
	t, ok := e.orders[id]
	e.mu.RUnlock()
	if !ok {
		return domain.Order{}, false
	}
	return e.snapshotOf(t), true
}

// OpenOrders returns snapshots of all non-terminal orders.
func (e *Engine) OpenOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []domain.Order
	for _, t := range e.orders {
		t.mu.Lock()
		if !t.o.State.Terminal() {
			out = append(out, t.o)
		}
		t.mu.Unlock()
	}
	return out
}

func (e *Engine) lookupBroker(brokerID string) *tracked {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byBroker[brokerID]
}

func (e *Engine) snapshotOf(t *tracked) domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.o
}

// transition applies fn under the order lock, records the state change, and
// flushes terminal orders.
func (e *Engine) transition(ctx context.Context, t *tracked, fn func(*domain.Order)) {
	t.mu.Lock()
	if t.o.State.Terminal() {
		t.mu.Unlock()
		return
	}
	fn(&t.o)
	t.o.UpdatedAt = e.now().UTC()
	snap := t.o
	t.mu.Unlock()

	e.recordState(ctx, t, snap)
	if snap.State.Terminal() {
		e.flushTerminal(ctx, t, snap)
	}
}

// recordState appends an order_state_change event.
func (e *Engine) recordState(ctx context.Context, t *tracked, snap domain.Order) {
	ev := domain.Event{
		Type:      domain.EventOrderState,
		VersionID: t.versionID,
		Symbol:    snap.Symbol,
		Day:       domain.EventDay(e.now()),
		Detail: map[string]any{
			"order_id":      snap.ID,
			"broker_id":     snap.BrokerID,
			"signal_id":     snap.SignalID,
			"state":         string(snap.State),
			"side":          string(snap.Side),
			"requested_qty": snap.RequestedQty,
			"filled_qty":    snap.FilledQty,
			"fail_reason":   snap.FailReason,
		},
	}
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Error("failed to record order state",
			slog.String("order_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}

// flushTerminal writes the immutable terminal record with intended vs
// executed price and quantity, enabling slippage measurement. Filled orders
// additionally produce a signal_executed event carrying realized P&L when
// this order closed a position.
func (e *Engine) flushTerminal(ctx context.Context, t *tracked, snap domain.Order) {
	if snap.FilledQty == 0 || (snap.State != domain.OrderFilled && snap.State != domain.OrderCancelled) {
		return
	}

	realized := 0.0
	if t.entryPrice > 0 {
		perShare := snap.FilledPrice - t.entryPrice
		if snap.Side == domain.OrderSideBuy {
			// Buy-to-cover: profit when covering below entry.
			perShare = t.entryPrice - snap.FilledPrice
		}
		realized = perShare * float64(snap.FilledQty)
	}

	ev := domain.Event{
		Type:      domain.EventSignalExecuted,
		VersionID: t.versionID,
		Symbol:    snap.Symbol,
		Day:       domain.EventDay(e.now()),
		Detail: map[string]any{
			"order_id":        snap.ID,
			"signal_id":       snap.SignalID,
			"side":            string(snap.Side),
			"requested_qty":   snap.RequestedQty,
			"filled_qty":      snap.FilledQty,
			"requested_price": snap.ReqPrice,
			"filled_price":    snap.FilledPrice,
			"confidence":      t.confidence,
			"realized_pnl":    realized,
		},
	}
	if err := e.events.Append(ctx, ev); err != nil {
		e.logger.Error("failed to flush terminal order",
			slog.String("order_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
}
