package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/store/memory"
)

func testVersion() domain.StrategyVersion {
	return domain.StrategyVersion{
		ID: "v1",
		Params: domain.StrategyParams{
			ConfidenceThreshold: 70,
			RiskPerTrade:        0.02,
			DefaultStopPct:      0.02,
		},
	}
}

func testAccount() domain.Account {
	return domain.Account{Equity: 100_000, BuyingPower: 200_000}
}

func newFilter(t *testing.T) (*Filter, *memory.EventStore) {
	t.Helper()
	events := memory.NewEventStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFilter(events, logger), events
}

func buySignal(conf int) domain.Signal {
	return domain.Signal{
		ID: "sig-1", Symbol: "AAPL", Action: domain.ActionBuy,
		Price: 185.42, StopLoss: 180.00, Confidence: conf,
	}
}

func TestHoldAlwaysRejected(t *testing.T) {
	f, _ := newFilter(t)
	sig := domain.Signal{Symbol: "AAPL", Action: domain.ActionHold, Confidence: 99}

	ds := f.Evaluate(context.Background(), []domain.Signal{sig}, testAccount(), testVersion())
	require.Len(t, ds, 1)
	assert.False(t, ds[0].Approved)
	assert.Equal(t, domain.RejectHold, ds[0].Reason)
}

func TestLowConfidenceRejectedRegardlessOfPrice(t *testing.T) {
	f, _ := newFilter(t)
	for _, price := range []float64{1, 185.42, 99999} {
		sig := buySignal(69)
		sig.Price = price
		ds := f.Evaluate(context.Background(), []domain.Signal{sig}, testAccount(), testVersion())
		require.Len(t, ds, 1)
		assert.Equal(t, domain.RejectLowConfidence, ds[0].Reason)
	}
}

func TestInvalidPriceRejected(t *testing.T) {
	f, _ := newFilter(t)
	sig := buySignal(85)
	sig.Price = 0

	ds := f.Evaluate(context.Background(), []domain.Signal{sig}, testAccount(), testVersion())
	assert.Equal(t, domain.RejectInvalidPrice, ds[0].Reason)
}

func TestDuplicateExposureRejected(t *testing.T) {
	f, _ := newFilter(t)
	acct := testAccount()
	acct.Positions = []domain.Position{{Symbol: "AAPL", Qty: 100, AvgEntry: 180}}

	ds := f.Evaluate(context.Background(), []domain.Signal{buySignal(85)}, acct, testVersion())
	assert.Equal(t, domain.RejectDuplicate, ds[0].Reason)
}

func TestOppositeDirectionNotDuplicate(t *testing.T) {
	f, _ := newFilter(t)
	acct := testAccount()
	acct.Positions = []domain.Position{{Symbol: "AAPL", Qty: -100, AvgEntry: 190}}

	ds := f.Evaluate(context.Background(), []domain.Signal{buySignal(85)}, acct, testVersion())
	assert.True(t, ds[0].Approved)
}

func TestPositionSizeExample(t *testing.T) {
	// equity=100000, risk=2%, price=185.42, stop=180.00
	// floor(2000 / 5.42) = 369 shares
	f, _ := newFilter(t)
	ds := f.Evaluate(context.Background(), []domain.Signal{buySignal(85)}, testAccount(), testVersion())
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Approved)
	assert.Equal(t, int64(369), ds[0].PositionSize)
}

func TestPositionSizeClampedByBuyingPower(t *testing.T) {
	f, _ := newFilter(t)
	acct := domain.Account{Equity: 100_000, BuyingPower: 10_000}

	ds := f.Evaluate(context.Background(), []domain.Signal{buySignal(85)}, acct, testVersion())
	require.True(t, ds[0].Approved)
	// floor(10000 / 185.42) = 53
	assert.Equal(t, int64(53), ds[0].PositionSize)
	assert.LessOrEqual(t, float64(ds[0].PositionSize)*185.42, acct.BuyingPower)
}

func TestPositionSizeZeroRejected(t *testing.T) {
	f, _ := newFilter(t)
	acct := domain.Account{Equity: 100, BuyingPower: 100}
	sig := buySignal(85)
	sig.Price = 5000
	sig.StopLoss = 4900

	ds := f.Evaluate(context.Background(), []domain.Signal{sig}, acct, testVersion())
	assert.Equal(t, domain.RejectZeroSize, ds[0].Reason)
}

func TestPositionSizeMonotonicInEquity(t *testing.T) {
	params := testVersion().Params
	sig := buySignal(85)

	var prev int64 = -1
	for _, equity := range []float64{10_000, 50_000, 100_000, 500_000} {
		acct := domain.Account{Equity: equity, BuyingPower: 1e9}
		size := PositionSize(acct, params, &sig)
		assert.GreaterOrEqual(t, size, prev)
		prev = size
	}
}

func TestPositionSizeNonIncreasingInStopDistance(t *testing.T) {
	params := testVersion().Params
	acct := testAccount()

	var prev int64 = 1 << 60
	for _, stop := range []float64{184, 182, 178, 170} {
		sig := buySignal(85)
		sig.StopLoss = stop
		size := PositionSize(acct, params, &sig)
		assert.LessOrEqual(t, size, prev)
		prev = size
	}
}

func TestDefaultStopUsedWhenSignalHasNone(t *testing.T) {
	params := testVersion().Params
	acct := testAccount()
	sig := buySignal(85)
	sig.StopLoss = 0

	// stop distance = 185.42 * 0.02, size = floor(2000 / 3.7084) = 539
	size := PositionSize(acct, params, &sig)
	assert.Equal(t, int64(539), size)
}

func TestEveryDecisionIsRecorded(t *testing.T) {
	f, events := newFilter(t)
	signals := []domain.Signal{
		buySignal(85),
		{Symbol: "MSFT", Action: domain.ActionHold, Confidence: 50},
	}

	f.Evaluate(context.Background(), signals, testAccount(), testVersion())

	recorded, err := events.List(context.Background(), nil, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, domain.EventSignalGenerated, recorded[0].Type)
	assert.Equal(t, domain.EventSignalRejected, recorded[1].Type)
	assert.Equal(t, "v1", recorded[0].VersionID)
}

func TestDecisionOrderMatchesInput(t *testing.T) {
	f, _ := newFilter(t)
	a := buySignal(85)
	b := buySignal(20)
	b.Symbol = "MSFT"

	ds := f.Evaluate(context.Background(), []domain.Signal{a, b}, testAccount(), testVersion())
	require.Len(t, ds, 2)
	assert.Equal(t, "AAPL", ds[0].Signal.Symbol)
	assert.Equal(t, "MSFT", ds[1].Signal.Symbol)
}
