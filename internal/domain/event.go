package domain

import "time"

// EventType tags one append-only event log record.
type EventType string

const (
	EventSignalGenerated EventType = "signal_generated"
	EventParseSkip       EventType = "parse_skip"
	EventSignalRejected  EventType = "signal_rejected"
	EventSignalExecuted  EventType = "signal_executed"
	EventOrderState      EventType = "order_state_change"
	EventCycleDegraded   EventType = "cycle_degraded"
	EventDailySummary    EventType = "daily_summary"
	EventVersionChange   EventType = "strategy_version_change"
)

// Event is one append-only record. Detail carries the entity snapshot as a
// flat map and is stored as JSONB. Day is the partition key (UTC date).
type Event struct {
	ID        int64
	Type      EventType
	VersionID string // active strategy version when the event was recorded
	Symbol    string // empty for non-symbol events
	Detail    map[string]any
	Day       string // YYYY-MM-DD, UTC
	CreatedAt time.Time
}

// EventDay formats t as the event log's day partition key.
func EventDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
