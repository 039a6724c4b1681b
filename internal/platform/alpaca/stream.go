package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

const (
	streamWriteWait        = 10 * time.Second
	streamPongWait         = 30 * time.Second
	streamPingPeriod       = (streamPongWait * 9) / 10
	streamReconnectDelay   = 2 * time.Second
	streamMaxReconnectWait = 60 * time.Second
)

// TradeUpdateHandler receives asynchronous order updates from the stream.
// The state reflects the broker's view after the update.
type TradeUpdateHandler func(fill domain.FillEvent, state domain.OrderState)

// StreamClient consumes the Alpaca trade_updates WebSocket stream and turns
// order updates into fill events.
type StreamClient struct {
	streamURL string
	apiKey    string
	secretKey string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	handlers  []TradeUpdateHandler

	done chan struct{}
}

// NewStreamClient creates a trade-updates stream client.
func NewStreamClient(streamURL, apiKey, secretKey string) *StreamClient {
	return &StreamClient{
		streamURL: streamURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		done:      make(chan struct{}),
	}
}

// OnTradeUpdate registers a handler called for every order update.
func (s *StreamClient) OnTradeUpdate(handler TradeUpdateHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Connect dials the stream, authenticates, and subscribes to trade updates.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("alpaca/stream: client is closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.streamURL, nil)
	if err != nil {
		return fmt.Errorf("alpaca/stream: connect: %w", err)
	}
	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	if err := s.send(map[string]any{
		"action": "auth",
		"key":    s.apiKey,
		"secret": s.secretKey,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("alpaca/stream: authenticate: %w", err)
	}

	if err := s.send(map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}); err != nil {
		conn.Close()
		return fmt.Errorf("alpaca/stream: subscribe: %w", err)
	}

	go s.readLoop()
	go s.pingLoop()

	return nil
}

// Close shuts down the stream connection.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// send marshals and writes one control message. Caller must hold s.mu.
func (s *StreamClient) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *StreamClient) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

func (s *StreamClient) pingLoop() {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdate struct {
	Event string        `json:"event"`
	At    *time.Time    `json:"timestamp"`
	Order orderResponse `json:"order"`
}

func (s *StreamClient) handleMessage(raw []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Stream != "trade_updates" {
		return
	}

	var update tradeUpdate
	if err := json.Unmarshal(envelope.Data, &update); err != nil {
		return
	}
	if update.Order.ID == "" {
		return
	}

	fill := domain.FillEvent{
		BrokerID: update.Order.ID,
		TotalQty: parseInt(update.Order.FilledQty),
		AvgPrice: parseFloat(update.Order.FilledAvgPrice),
		At:       time.Now().UTC(),
	}
	if update.At != nil {
		fill.At = update.At.UTC()
	}
	state := mapOrderStatus(update.Order.Status)

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(fill, state)
	}
}

// reconnect re-establishes the stream with exponential backoff. Subscriptions
// are restored by Connect itself since the stream carries a single channel.
func (s *StreamClient) reconnect() {
	delay := streamReconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > streamMaxReconnectWait {
			delay = streamMaxReconnectWait
		}
	}
}
