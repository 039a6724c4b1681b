package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// VersionStore implements domain.StrategyVersionStore using PostgreSQL. The
// ledger is append-only: versions are inserted, never updated or deleted, so
// every historical decision stays reproducible against the version active at
// the time.
type VersionStore struct {
	pool *pgxpool.Pool
}

// NewVersionStore creates a VersionStore backed by the given connection pool.
func NewVersionStore(pool *pgxpool.Pool) *VersionStore {
	return &VersionStore{pool: pool}
}

// Append inserts a new strategy version.
func (s *VersionStore) Append(ctx context.Context, v domain.StrategyVersion) error {
	const query = `
		INSERT INTO strategy_versions
			(id, parent_id, confidence_threshold, risk_per_trade, prompt_template,
			 default_stop_pct, change_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		v.ID, v.ParentID,
		v.Params.ConfidenceThreshold, v.Params.RiskPerTrade,
		v.Params.PromptTemplate, v.Params.DefaultStopPct,
		v.ChangeReason, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append strategy version %s: %w", v.ID, err)
	}
	return nil
}

// Get returns the version with the given id.
func (s *VersionStore) Get(ctx context.Context, id string) (domain.StrategyVersion, error) {
	const query = selectVersions + ` WHERE id = $1`
	v, err := scanVersion(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StrategyVersion{}, domain.ErrNotFound
	}
	return v, err
}

// Current returns the most recently appended version.
func (s *VersionStore) Current(ctx context.Context) (domain.StrategyVersion, error) {
	const query = selectVersions + ` ORDER BY created_at DESC, id DESC LIMIT 1`
	v, err := scanVersion(s.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StrategyVersion{}, domain.ErrNotFound
	}
	return v, err
}

// List returns versions oldest first.
func (s *VersionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.StrategyVersion, error) {
	query := selectVersions + ` ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.StrategyVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategy versions rows: %w", err)
	}
	return versions, nil
}

const selectVersions = `
	SELECT id, parent_id, confidence_threshold, risk_per_trade, prompt_template,
	       default_stop_pct, change_reason, created_at
	FROM strategy_versions`

func scanVersion(row pgx.Row) (domain.StrategyVersion, error) {
	var v domain.StrategyVersion
	err := row.Scan(
		&v.ID, &v.ParentID,
		&v.Params.ConfidenceThreshold, &v.Params.RiskPerTrade,
		&v.Params.PromptTemplate, &v.Params.DefaultStopPct,
		&v.ChangeReason, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return v, err
		}
		return v, fmt.Errorf("postgres: scan strategy version: %w", err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.StrategyVersionStore = (*VersionStore)(nil)
