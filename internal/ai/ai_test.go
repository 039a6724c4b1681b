package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{
		ApiKey:  "test-key",
		Model:   "test/model",
		BaseURL: srv.URL,
	})
	client.SetRetryWait(time.Millisecond)
	return client
}

func TestCompleteReturnsAssistantText(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(`{"choices":[{"message":{"content":"AAPL: [HOLD] - Confidence: 50% - Reason: flat tape"}}]}`))
	})

	text, err := client.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "AAPL: [HOLD] - Confidence: 50% - Reason: flat tape", text)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestCompleteRateLimitedMapsToQuotaExceeded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestCompleteServerFaultMapsToTransport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestCompleteConnectionRefusedMapsToTransport(t *testing.T) {
	client := NewClient(ClientConfig{
		ApiKey:  "test-key",
		Model:   "test/model",
		BaseURL: "http://127.0.0.1:1",
	})
	client.SetRetryWait(time.Millisecond)

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestCompleteRetriesTransientServerFault(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	text, err := client.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, calls)
}

func TestCompleteDoesNotRetryQuotaExceeded(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCompleteEmptyChoicesIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Complete(context.Background(), "sys", "user")
	assert.Error(t, err)
}

func TestSystemPromptPinsGrammarAndThreshold(t *testing.T) {
	b := NewPromptBuilder()
	sys := b.System(domain.StrategyParams{
		ConfidenceThreshold: 70,
		PromptTemplate:      TemplateConservativeSwing,
	})

	assert.Contains(t, sys, "conservative swing trader")
	assert.Contains(t, sys, "below 70% confidence")
	assert.Contains(t, sys, "SYMBOL: [BUY] at $PRICE - Confidence: N% - Reason: short explanation")
	assert.Contains(t, sys, "SYMBOL: [HOLD] - Confidence: N% - Reason: short explanation")
}

func TestSystemPromptUnknownTemplateFallsBack(t *testing.T) {
	b := NewPromptBuilder()
	sys := b.System(domain.StrategyParams{PromptTemplate: "nonexistent"})
	assert.Contains(t, sys, "aggressive intraday equities trader")
}

func TestUserPromptFormatsBarsAndMissingSymbols(t *testing.T) {
	b := NewPromptBuilder()
	start := time.Date(2026, 3, 16, 14, 30, 0, 0, time.UTC)
	user := b.User([]string{"AAPL", "TSLA"}, map[string][]domain.Bar{
		"AAPL": {
			{Symbol: "AAPL", Open: 184, High: 186, Low: 183.5, Close: 185.42, Volume: 120000, Start: start},
		},
	})

	assert.Contains(t, user, "AAPL (latest close 185.42)")
	assert.Contains(t, user, "14:30 O=184.00 H=186.00 L=183.50 C=185.42 V=120000")
	assert.Contains(t, user, "TSLA: no recent data available.")
}

func TestUserPromptKeepsOnlyRecentBars(t *testing.T) {
	b := NewPromptBuilder()
	start := time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 0; i < 30; i++ {
		bars = append(bars, domain.Bar{
			Symbol: "SPY", Close: 500 + float64(i),
			Start: start.Add(time.Duration(i) * 5 * time.Minute),
		})
	}

	user := b.User([]string{"SPY"}, map[string][]domain.Bar{"SPY": bars})
	assert.NotContains(t, user, "09:30 ")
	assert.Contains(t, user, "11:55 ")
}
