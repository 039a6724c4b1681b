package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the append-only event log. Append never mutates prior
// rows; readers rebuild aggregates from stored rows without replaying
// business logic.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByDay(ctx context.Context, day string) ([]Event, error)
	List(ctx context.Context, types []EventType, opts ListOpts) ([]Event, error)
	// AggregatePerformance rebuilds per-version performance for the trailing
	// window [since, until] from event rows only.
	AggregatePerformance(ctx context.Context, versionID string, since, until time.Time) (VersionPerformance, error)
}

// StrategyVersionStore persists the immutable strategy version ledger.
type StrategyVersionStore interface {
	Append(ctx context.Context, v StrategyVersion) error
	Get(ctx context.Context, id string) (StrategyVersion, error)
	// Current returns the most recently appended version.
	Current(ctx context.Context) (StrategyVersion, error)
	List(ctx context.Context, opts ListOpts) ([]StrategyVersion, error)
}

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver moves one day's event partition to cold storage.
type Archiver interface {
	ArchiveDay(ctx context.Context, day string) error
}
