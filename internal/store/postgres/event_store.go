package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Rows are only
// ever inserted; the aggregation reader rebuilds evolution metrics from
// stored rows without replaying business logic.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event. Detail is stored as JSONB.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	detailJSON, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Day == "" {
		ev.Day = domain.EventDay(ev.CreatedAt)
	}

	const query = `
		INSERT INTO events (event_type, version_id, symbol, detail, day, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.pool.Exec(ctx, query,
		string(ev.Type), ev.VersionID, ev.Symbol, detailJSON, ev.Day, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.Type, err)
	}
	return nil
}

// ListByDay returns all events for one day partition in append order.
func (s *EventStore) ListByDay(ctx context.Context, day string) ([]domain.Event, error) {
	const query = `
		SELECT id, event_type, version_id, symbol, detail, day, created_at
		FROM events WHERE day = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for day %s: %w", day, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// List returns events matching the given types and options, oldest first.
func (s *EventStore) List(ctx context.Context, types []domain.EventType, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT id, event_type, version_id, symbol, detail, day, created_at
		FROM events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, names)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AggregatePerformance rebuilds one version's performance for the trailing
// window from event rows only.
func (s *EventStore) AggregatePerformance(ctx context.Context, versionID string, since, until time.Time) (domain.VersionPerformance, error) {
	perf := domain.VersionPerformance{
		VersionID:   versionID,
		WindowStart: since,
		WindowEnd:   until,
	}

	const execQuery = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE (detail->>'realized_pnl')::float8 > 0),
			COALESCE(SUM((detail->>'realized_pnl')::float8), 0),
			COALESCE(SUM(CASE WHEN (detail->>'realized_pnl')::float8 <= 0
				THEN -(detail->>'realized_pnl')::float8 ELSE 0 END), 0),
			COALESCE(AVG((detail->>'confidence')::float8), 0)
		FROM events
		WHERE event_type = $1 AND version_id = $2 AND created_at BETWEEN $3 AND $4`
	err := s.pool.QueryRow(ctx, execQuery,
		string(domain.EventSignalExecuted), versionID, since, until,
	).Scan(&perf.TradesExecuted, &perf.Wins, &perf.RealizedPnL, &perf.TotalLoss, &perf.AvgConfExecuted)
	if err != nil {
		return perf, fmt.Errorf("postgres: aggregate executions for %s: %w", versionID, err)
	}

	const rejectQuery = `
		SELECT COALESCE(AVG((detail->>'confidence')::float8), 0)
		FROM events
		WHERE event_type = $1 AND version_id = $2 AND created_at BETWEEN $3 AND $4`
	err = s.pool.QueryRow(ctx, rejectQuery,
		string(domain.EventSignalRejected), versionID, since, until,
	).Scan(&perf.AvgConfRejected)
	if err != nil {
		return perf, fmt.Errorf("postgres: aggregate rejections for %s: %w", versionID, err)
	}

	return perf, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			ev         domain.Event
			evType     string
			detailJSON []byte
		)
		if err := rows.Scan(&ev.ID, &evType, &ev.VersionID, &ev.Symbol, &detailJSON, &ev.Day, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(evType)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
