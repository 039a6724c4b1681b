package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

var scope = []string{"AAPL", "GOOGL", "MSFT", "TSLA"}

func TestParseWellFormedLine(t *testing.T) {
	body := "AAPL: [BUY] at $185.42 - Confidence: 85% - Reason: momentum"

	signals, skips := New().Parse(body, scope)
	require.Len(t, signals, 1)
	assert.Empty(t, skips)

	sig := signals[0]
	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Equal(t, 185.42, sig.Price)
	assert.Equal(t, 85, sig.Confidence)
	assert.Equal(t, "momentum", sig.Reason)
	assert.NotEmpty(t, sig.ID)
}

func TestParseHoldOmitsPrice(t *testing.T) {
	signals, skips := New().Parse("MSFT: [HOLD] - Confidence: 60% - Reason: choppy", scope)
	require.Len(t, signals, 1)
	assert.Empty(t, skips)
	assert.Equal(t, domain.ActionHold, signals[0].Action)
	assert.Zero(t, signals[0].Price)
}

func TestParseStopLossClause(t *testing.T) {
	body := "TSLA: [BUY] at $250.00 - Confidence: 80% - Reason: breakout - Stop Loss: $245.50"
	signals, _ := New().Parse(body, scope)
	require.Len(t, signals, 1)
	assert.Equal(t, 245.50, signals[0].StopLoss)
	assert.Equal(t, "breakout", signals[0].Reason)
}

func TestParseInvertedStopDiscarded(t *testing.T) {
	body := "TSLA: [BUY] at $250.00 - Confidence: 80% - Reason: breakout - Stop Loss: $260.00"
	signals, _ := New().Parse(body, scope)
	require.Len(t, signals, 1)
	assert.Zero(t, signals[0].StopLoss)
}

func TestParseMalformedLinesNeverError(t *testing.T) {
	body := "Here is my market analysis:\n" +
		"AAPL looks strong today\n" +
		"GOOGL: [BUY] at $140.10 - Confidence: 75% - Reason: gap up\n" +
		"??!!\n"

	signals, skips := New().Parse(body, scope)
	require.Len(t, signals, 1)
	assert.Equal(t, "GOOGL", signals[0].Symbol)
	require.Len(t, skips, 3)
	for _, s := range skips {
		assert.Equal(t, SkipMalformed, s.Reason)
	}
}

func TestParseOutOfScopeSymbolDropped(t *testing.T) {
	signals, skips := New().Parse("GME: [BUY] at $25.00 - Confidence: 99% - Reason: squeeze", scope)
	assert.Empty(t, signals)
	require.Len(t, skips, 1)
	assert.Equal(t, SkipOutOfScope, skips[0].Reason)
}

func TestParseDuplicateKeepsFirst(t *testing.T) {
	body := "AAPL: [BUY] at $185.00 - Confidence: 80% - Reason: momentum\n" +
		"AAPL: [SELL] at $186.00 - Confidence: 90% - Reason: reversal"

	signals, skips := New().Parse(body, scope)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.ActionBuy, signals[0].Action)
	require.Len(t, skips, 1)
	assert.Equal(t, SkipDuplicate, skips[0].Reason)
}

func TestParseConfidenceClampedAndFlagged(t *testing.T) {
	body := "AAPL: [BUY] at $185.00 - Confidence: 140% - Reason: hype\n" +
		"GOOGL: [SELL] at $140.00 - Confidence: -5% - Reason: dump"

	signals, _ := New().Parse(body, scope)
	require.Len(t, signals, 2)
	assert.Equal(t, 100, signals[0].Confidence)
	assert.True(t, signals[0].Clamped)
	assert.Equal(t, 0, signals[1].Confidence)
	assert.True(t, signals[1].Clamped)
}

func TestParseMissingConfidenceDefaultsZero(t *testing.T) {
	signals, _ := New().Parse("AAPL: [BUY] at $185.00 - Reason: vibes", scope)
	require.Len(t, signals, 1)
	assert.Zero(t, signals[0].Confidence)
	assert.False(t, signals[0].Clamped)
}

func TestParseOrderingMatchesInput(t *testing.T) {
	body := "TSLA: [SELL] at $250.00 - Confidence: 70% - Reason: fade\n" +
		"AAPL: [BUY] at $185.00 - Confidence: 80% - Reason: momentum"

	signals, _ := New().Parse(body, scope)
	require.Len(t, signals, 2)
	assert.Equal(t, "TSLA", signals[0].Symbol)
	assert.Equal(t, "AAPL", signals[1].Symbol)
}

func TestParseEmptyBody(t *testing.T) {
	signals, skips := New().Parse("", scope)
	assert.Empty(t, signals)
	assert.Empty(t, skips)
}
