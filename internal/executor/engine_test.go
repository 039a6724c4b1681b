package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/store/memory"
)

// fakeBroker scripts submission outcomes and records cancels.
type fakeBroker struct {
	mu        sync.Mutex
	submitErr []error // errors returned per attempt before success
	rejected  bool
	nextID    int
	cancelled []string
	submits   int
}

func (b *fakeBroker) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{}, nil
}

func (b *fakeBroker) SubmitOrder(context.Context, domain.OrderRequest) (domain.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	if len(b.submitErr) > 0 {
		err := b.submitErr[0]
		b.submitErr = b.submitErr[1:]
		return domain.SubmitResult{}, err
	}
	if b.rejected {
		return domain.SubmitResult{Accepted: false, Message: "insufficient buying power"}, nil
	}
	b.nextID++
	return domain.SubmitResult{Accepted: true, BrokerID: "brk-1"}, nil
}

func (b *fakeBroker) GetOrder(context.Context, string) (domain.FillEvent, domain.OrderState, error) {
	return domain.FillEvent{}, domain.OrderSubmitted, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, id)
	return nil
}

func testDecision() domain.RiskDecision {
	return domain.RiskDecision{
		Signal: &domain.Signal{
			ID: "sig-1", Symbol: "AAPL", Action: domain.ActionBuy,
			Price: 185.42, Confidence: 85,
		},
		Approved:     true,
		PositionSize: 100,
	}
}

func newEngine(b domain.Broker, events domain.EventStore) *Engine {
	return NewEngine(b, events, Config{
		SubmitRetries: 3,
		RetryBaseWait: time.Millisecond,
		RetryMaxWait:  50 * time.Millisecond,
		PartialWatch:  time.Hour,
		PollInterval:  time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecuteSubmitsAndTracks(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())

	order, err := e.Execute(context.Background(), testDecision(), "v1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, order.State)
	assert.Equal(t, "brk-1", order.BrokerID)
	assert.Equal(t, int64(100), order.RequestedQty)
}

func TestExecuteRetriesTransportFaults(t *testing.T) {
	broker := &fakeBroker{submitErr: []error{domain.ErrTransport, domain.ErrTransport}}
	e := newEngine(broker, memory.NewEventStore())

	order, err := e.Execute(context.Background(), testDecision(), "v1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSubmitted, order.State)
	assert.Equal(t, 3, broker.submits)
}

func TestExecuteExhaustedRetriesIsError(t *testing.T) {
	broker := &fakeBroker{submitErr: []error{
		domain.ErrTransport, domain.ErrTransport, domain.ErrTransport, domain.ErrTransport,
	}}
	events := memory.NewEventStore()
	e := newEngine(broker, events)

	order, err := e.Execute(context.Background(), testDecision(), "v1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderError, order.State)
	assert.NotEmpty(t, order.FailReason)

	// The final cause is recorded, not silently dropped.
	recorded, _ := events.List(context.Background(), []domain.EventType{domain.EventOrderState}, domain.ListOpts{})
	require.NotEmpty(t, recorded)
	assert.Equal(t, string(domain.OrderError), recorded[len(recorded)-1].Detail["state"])
}

func TestBrokerRejectionNeverRetried(t *testing.T) {
	broker := &fakeBroker{rejected: true}
	e := newEngine(broker, memory.NewEventStore())

	order, err := e.Execute(context.Background(), testDecision(), "v1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, order.State)
	assert.Equal(t, 1, broker.submits)
}

func TestFillIdempotence(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	fill := domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 40, AvgPrice: 185.50}
	e.ApplyFill(context.Background(), fill)
	e.ApplyFill(context.Background(), fill) // re-delivery must not double count

	snap, ok := e.Get(order.ID)
	require.True(t, ok)
	assert.Equal(t, int64(40), snap.FilledQty)
	assert.Equal(t, domain.OrderPartiallyFilled, snap.State)
}

func TestOutOfOrderFillsIgnored(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 60, AvgPrice: 185.48})
	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 40, AvgPrice: 185.45})

	snap, _ := e.Get(order.ID)
	assert.Equal(t, int64(60), snap.FilledQty)
	assert.Equal(t, 185.48, snap.FilledPrice)
}

func TestFilledNeverExceedsRequested(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 250, AvgPrice: 185.40})

	snap, _ := e.Get(order.ID)
	assert.Equal(t, int64(100), snap.FilledQty)
	assert.Equal(t, domain.OrderFilled, snap.State)
}

func TestStateMonotonicAfterTerminal(t *testing.T) {
	broker := &fakeBroker{}
	events := memory.NewEventStore()
	e := newEngine(broker, events)
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 100, AvgPrice: 185.40})
	snap, _ := e.Get(order.ID)
	require.Equal(t, domain.OrderFilled, snap.State)

	// No event can move a filled order back.
	e.ApplyBrokerState(context.Background(), order.BrokerID, domain.OrderCancelled, "late cancel")
	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 50})

	snap, _ = e.Get(order.ID)
	assert.Equal(t, domain.OrderFilled, snap.State)
	assert.Equal(t, int64(100), snap.FilledQty)
}

func TestTerminalFillFlushesExecutionEvent(t *testing.T) {
	broker := &fakeBroker{}
	events := memory.NewEventStore()
	e := newEngine(broker, events)
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 180.00)

	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 100, AvgPrice: 185.50})

	recorded, err := events.List(context.Background(), []domain.EventType{domain.EventSignalExecuted}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	detail := recorded[0].Detail
	assert.Equal(t, 185.42, detail["requested_price"])
	assert.Equal(t, 185.50, detail["filled_price"])
	// Buy-to-cover against a 180.00 entry loses 5.50/share on 100 shares.
	assert.InDelta(t, -550.0, detail["realized_pnl"].(float64), 1e-9)
}

func TestCancelTransitionsOrder(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	require.NoError(t, e.Cancel(context.Background(), order.BrokerID))

	snap, _ := e.Get(order.ID)
	assert.Equal(t, domain.OrderCancelled, snap.State)
	assert.Equal(t, []string{order.BrokerID}, broker.cancelled)
}

func TestOpenOrdersExcludesTerminal(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	require.Len(t, e.OpenOrders(), 1)
	e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: 100, AvgPrice: 185.40})
	assert.Empty(t, e.OpenOrders())
}

func TestConcurrentFillsAndReads(t *testing.T) {
	broker := &fakeBroker{}
	e := newEngine(broker, memory.NewEventStore())
	order, _ := e.Execute(context.Background(), testDecision(), "v1", 0)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		qty := int64(i * 2)
		go func() {
			defer wg.Done()
			e.ApplyFill(context.Background(), domain.FillEvent{BrokerID: order.BrokerID, TotalQty: qty, AvgPrice: 185.40})
		}()
		go func() {
			defer wg.Done()
			snap, ok := e.Get(order.ID)
			if ok {
				// Readers only ever see fully-applied states.
				assert.LessOrEqual(t, snap.FilledQty, snap.RequestedQty)
			}
		}()
	}
	wg.Wait()

	snap, _ := e.Get(order.ID)
	assert.Equal(t, int64(100), snap.FilledQty)
	assert.Equal(t, domain.OrderFilled, snap.State)
}
