// Package ai talks to the OpenRouter chat completions API and builds the
// prompts whose answers the signal parser understands.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// ClientConfig holds OpenRouter API parameters.
type ClientConfig struct {
	ApiKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// completeAttempts bounds how often one completion is retried on transport
// faults. Quota errors are never retried here; the health gate owns pacing.
const completeAttempts = 3

// Client is the OpenRouter chat completions client.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	retryWait  time.Duration
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		retryWait: 2 * time.Second,
	}
}

// SetHTTPClient overrides the underlying HTTP client. Test hook.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// SetRetryWait overrides the base wait between retry attempts. Test hook.
func (c *Client) SetRetryWait(d time.Duration) { c.retryWait = d }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends a chat completion request and returns the raw assistant
// text. Transport faults are retried with linear backoff up to a bounded
// attempt count. Rate-limit exhaustion maps to domain.ErrQuotaExceeded and is
// returned immediately; network and server faults map to domain.ErrTransport.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		text, err := c.complete(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrTransport) || attempt == completeAttempts {
			break
		}

		timer := time.NewTimer(c.retryWait * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("ai: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return "", lastErr
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: %w: read response: %v", domain.ErrTransport, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", fmt.Errorf("ai: %w: retry after %s", domain.ErrQuotaExceeded, retryAfter)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("ai: %w: HTTP %d", domain.ErrTransport, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ai: HTTP %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("ai: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai: empty completion")
	}

	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Minute
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.AICompleter = (*Client)(nil)
