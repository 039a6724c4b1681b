// Package notify forwards selected pipeline events to operator channels.
// Delivery is best effort: a failed sender never blocks the trading cycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier renders events into operator messages and fans them out to all
// registered senders. It maintains a set of allowed event types; events
// outside the set are dropped silently.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in the events slice are forwarded; an empty slice allows
// all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and dispatches one event if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) {
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}

	title, message := render(ev)
	n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failure never blocks the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// render turns an event into a human-readable title and body.
func render(ev domain.Event) (string, string) {
	switch ev.Type {
	case domain.EventSignalExecuted:
		return fmt.Sprintf("Trade executed: %s", ev.Symbol),
			fmt.Sprintf("filled %v @ %v, realized P&L %v",
				ev.Detail["filled_qty"], ev.Detail["filled_price"], ev.Detail["realized_pnl"])
	case domain.EventSignalRejected:
		return fmt.Sprintf("Signal rejected: %s", ev.Symbol),
			fmt.Sprintf("reason: %v", ev.Detail["rejection_reason"])
	case domain.EventCycleDegraded:
		return "Cycle degraded",
			fmt.Sprintf("service %v skipped: %v", ev.Detail["service"], ev.Detail["reason"])
	case domain.EventDailySummary:
		return fmt.Sprintf("Daily summary %s", ev.Day),
			fmt.Sprintf("trades %v, realized P&L %v, rejections %v",
				ev.Detail["trades_executed"], ev.Detail["realized_pnl"], ev.Detail["signals_rejected"])
	case domain.EventVersionChange:
		return "Strategy version changed",
			fmt.Sprintf("%v", ev.Detail["change_reason"])
	default:
		return string(ev.Type), fmt.Sprintf("%s %v", ev.Symbol, ev.Detail)
	}
}
