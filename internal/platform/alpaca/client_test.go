package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		ApiKey:    "key-id",
		SecretKey: "secret",
		BaseURL:   srv.URL,
	})
}

func TestGetAccountParsesEquityAndPositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-id", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		w.Write([]byte(`{"equity":"100000.50","buying_power":"200000","status":"ACTIVE"}`))
	})
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"AAPL","qty":"100","avg_entry_price":"180.25"},{"symbol":"TSLA","qty":"-50","avg_entry_price":"240.00"}]`))
	})

	client := newTestClient(t, mux)
	acct, err := client.GetAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100000.50, acct.Equity)
	assert.Equal(t, 200000.0, acct.BuyingPower)
	require.Len(t, acct.Positions, 2)
	assert.Equal(t, int64(100), acct.Positions[0].Qty)
	assert.Equal(t, int64(-50), acct.Positions[1].Qty)
	assert.Equal(t, domain.OrderSideSell, acct.Positions[1].Side())
}

func TestSubmitOrderAccepted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		var payload orderPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "AAPL", payload.Symbol)
		assert.Equal(t, "369", payload.Qty)
		assert.Equal(t, "market", payload.Type)
		assert.Equal(t, "day", payload.TimeInForce)
		w.Write([]byte(`{"id":"broker-1","status":"accepted","filled_qty":"0","filled_avg_price":""}`))
	})

	client := newTestClient(t, mux)
	res, err := client.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 369,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "broker-1", res.BrokerID)
}

func TestSubmitOrderRejectionIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})

	client := newTestClient(t, mux)
	res, err := client.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10000,
	})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "insufficient buying power", res.Message)
}

func TestSubmitOrderServerFaultMapsToTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client := newTestClient(t, mux)
	_, err := client.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
}

func TestSubmitOrderRateLimitedMapsToQuota(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limit"}`))
	})

	client := newTestClient(t, mux)
	_, err := client.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestGetOrderMapsStatusAndCumulativeFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders/broker-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"broker-1","status":"partially_filled","filled_qty":"40","filled_avg_price":"185.50"}`))
	})

	client := newTestClient(t, mux)
	fill, state, err := client.GetOrder(context.Background(), "broker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyFilled, state)
	assert.Equal(t, int64(40), fill.TotalQty)
	assert.Equal(t, 185.50, fill.AvgPrice)
}

func TestGetOrderUnknownIDMapsToNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"order not found"}`))
	})

	client := newTestClient(t, mux)
	_, _, err := client.GetOrder(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCancelOrderTerminalOrderIsNoOp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders/broker-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"order is already filled"}`))
	})

	client := newTestClient(t, mux)
	assert.NoError(t, client.CancelOrder(context.Background(), "broker-1"))
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, domain.OrderFilled, mapOrderStatus("filled"))
	assert.Equal(t, domain.OrderPartiallyFilled, mapOrderStatus("partially_filled"))
	assert.Equal(t, domain.OrderCancelled, mapOrderStatus("canceled"))
	assert.Equal(t, domain.OrderCancelled, mapOrderStatus("expired"))
	assert.Equal(t, domain.OrderRejected, mapOrderStatus("rejected"))
	assert.Equal(t, domain.OrderSubmitted, mapOrderStatus("new"))
	assert.Equal(t, domain.OrderSubmitted, mapOrderStatus("pending_new"))
}
