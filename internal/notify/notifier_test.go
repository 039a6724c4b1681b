package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyForwardsAllowedEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"signal_executed"}, discardLogger())

	n.Notify(context.Background(), domain.Event{
		Type:   domain.EventSignalExecuted,
		Symbol: "AAPL",
		Detail: map[string]any{"filled_qty": 100, "filled_price": 185.5, "realized_pnl": 250.0},
	})
	n.Notify(context.Background(), domain.Event{
		Type:   domain.EventSignalRejected,
		Symbol: "TSLA",
	})

	assert.Equal(t, []string{"Trade executed: AAPL"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	n.Notify(context.Background(), domain.Event{Type: domain.EventCycleDegraded,
		Detail: map[string]any{"service": "ai", "reason": "quota"}})
	n.Notify(context.Background(), domain.Event{Type: domain.EventDailySummary, Day: "2026-03-16",
		Detail: map[string]any{"trades_executed": 4, "realized_pnl": 120.0, "signals_rejected": 2}})

	assert.Equal(t, []string{"Cycle degraded", "Daily summary 2026-03-16"}, sender.titles)
}

func TestNotifyFailedSenderDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("down")}
	working := &recordingSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, discardLogger())

	n.Notify(context.Background(), domain.Event{
		Type:   domain.EventVersionChange,
		Detail: map[string]any{"change_reason": "win rate below floor"},
	})

	assert.Equal(t, []string{"Strategy version changed"}, working.titles)
}
