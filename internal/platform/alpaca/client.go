// Package alpaca implements the brokerage client against the Alpaca trading
// API, both REST and the trade-updates WebSocket stream.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// ClientConfig holds Alpaca REST API parameters.
type ClientConfig struct {
	ApiKey    string
	SecretKey string
	BaseURL   string // e.g. "https://paper-api.alpaca.markets"
}

// Client is the REST client for the Alpaca trading API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a new Alpaca REST client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://paper-api.alpaca.markets"
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient overrides the underlying HTTP client. Test hook.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// GetAccount returns the account snapshot including open positions.
func (c *Client) GetAccount(ctx context.Context) (domain.Account, error) {
	body, _, err := c.doRequest(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: get account: %w", err)
	}

	var acct accountResponse
	if err := json.Unmarshal(body, &acct); err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: decode account: %w", err)
	}

	body, _, err = c.doRequest(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: get positions: %w", err)
	}

	var raw []positionResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: decode positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, domain.Position{
			Symbol:   p.Symbol,
			Qty:      parseInt(p.Qty),
			AvgEntry: parseFloat(p.AvgEntryPrice),
		})
	}

	return domain.Account{
		Equity:      parseFloat(acct.Equity),
		BuyingPower: parseFloat(acct.BuyingPower),
		Positions:   positions,
	}, nil
}

// SubmitOrder posts a new order. A rejection by the broker returns a
// non-accepted result with nil error so the caller can treat it as final;
// transport and server faults return an error.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	payload := orderPayload{
		Symbol:      req.Symbol,
		Qty:         strconv.FormatInt(req.Qty, 10),
		Side:        string(req.Side),
		Type:        "market",
		TimeInForce: req.TimeInForce,
	}
	if payload.TimeInForce == "" {
		payload.TimeInForce = "day"
	}
	if req.LimitPrice > 0 {
		payload.Type = "limit"
		payload.LimitPrice = strconv.FormatFloat(req.LimitPrice, 'f', 2, 64)
	}

	body, status, err := c.doRequest(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		if status == http.StatusForbidden || status == http.StatusUnprocessableEntity {
			var apiErr errorResponse
			_ = json.Unmarshal(body, &apiErr)
			return domain.SubmitResult{Accepted: false, Message: apiErr.Message}, nil
		}
		return domain.SubmitResult{}, fmt.Errorf("alpaca: submit order: %w", err)
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("alpaca: decode order: %w", err)
	}

	if mapOrderStatus(order.Status) == domain.OrderRejected {
		return domain.SubmitResult{Accepted: false, BrokerID: order.ID, Message: order.Status}, nil
	}
	return domain.SubmitResult{Accepted: true, BrokerID: order.ID}, nil
}

// GetOrder returns the current cumulative fill and lifecycle state for one
// broker order id.
func (c *Client) GetOrder(ctx context.Context, brokerID string) (domain.FillEvent, domain.OrderState, error) {
	path := "/v2/orders/" + url.PathEscape(brokerID)
	body, status, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return domain.FillEvent{}, "", fmt.Errorf("alpaca: order %s: %w", brokerID, domain.ErrNotFound)
		}
		return domain.FillEvent{}, "", fmt.Errorf("alpaca: get order %s: %w", brokerID, err)
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.FillEvent{}, "", fmt.Errorf("alpaca: decode order: %w", err)
	}

	fill := domain.FillEvent{
		BrokerID: order.ID,
		TotalQty: parseInt(order.FilledQty),
		AvgPrice: parseFloat(order.FilledAvgPrice),
		At:       time.Now().UTC(),
	}
	if order.UpdatedAt != nil {
		fill.At = order.UpdatedAt.UTC()
	}
	return fill, mapOrderStatus(order.Status), nil
}

// CancelOrder requests cancellation of a working order. Cancelling an
// already-terminal order is not an error.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	path := "/v2/orders/" + url.PathEscape(brokerID)
	_, status, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
			return nil
		}
		return fmt.Errorf("alpaca: cancel order %s: %w", brokerID, err)
	}
	return nil
}

// doRequest builds, authenticates, sends, and reads one HTTP request. Non-2xx
// responses return the body alongside the status code and a classified error.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, int, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.ApiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, resp.StatusCode, nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(respBody, &apiErr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return respBody, resp.StatusCode, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, apiErr.Message)
	case resp.StatusCode >= 500:
		return respBody, resp.StatusCode, fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, resp.StatusCode, apiErr.Message)
	default:
		return respBody, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Message)
	}
}

// Compile-time interface check.
var _ domain.Broker = (*Client)(nil)
