// Package memory provides in-memory implementations of the store interfaces.
// They back redis-less and database-less runs (monitor mode) and give tests a
// deterministic substitute without external services.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// EventStore is an append-only in-memory event log.
type EventStore struct {
	mu     sync.Mutex
	nextID int64
	events []domain.Event
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{nextID: 1}
}

// Append adds one event, assigning an id and timestamp if unset.
func (s *EventStore) Append(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID
	s.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Day == "" {
		ev.Day = domain.EventDay(ev.CreatedAt)
	}
	s.events = append(s.events, ev)
	return nil
}

// ListByDay returns all events for one day partition in append order.
func (s *EventStore) ListByDay(_ context.Context, day string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.Day == day {
			out = append(out, ev)
		}
	}
	return out, nil
}

// List returns events matching the given types and options, oldest first.
func (s *EventStore) List(_ context.Context, types []domain.EventType, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	var out []domain.Event
	for _, ev := range s.events {
		if len(want) > 0 && !want[ev.Type] {
			continue
		}
		if opts.Since != nil && ev.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// AggregatePerformance rebuilds one version's trailing-window performance
// from stored events only.
func (s *EventStore) AggregatePerformance(ctx context.Context, versionID string, since, until time.Time) (domain.VersionPerformance, error) {
	events, err := s.List(ctx, nil, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		return domain.VersionPerformance{}, err
	}
	return Aggregate(versionID, events, since, until), nil
}

// Aggregate folds event rows into a VersionPerformance. Shared with tests so
// the aggregation rules live in one place.
func Aggregate(versionID string, events []domain.Event, since, until time.Time) domain.VersionPerformance {
	perf := domain.VersionPerformance{
		VersionID:   versionID,
		WindowStart: since,
		WindowEnd:   until,
	}

	var (
		confExecuted, confRejected float64
		executed, rejected         int
	)

	for _, ev := range events {
		if ev.VersionID != versionID {
			continue
		}
		switch ev.Type {
		case domain.EventSignalExecuted:
			executed++
			confExecuted += toFloat(ev.Detail["confidence"])
			pnl := toFloat(ev.Detail["realized_pnl"])
			perf.RealizedPnL += pnl
			perf.TradesExecuted++
			if pnl > 0 {
				perf.Wins++
			} else {
				perf.TotalLoss += -pnl
			}
		case domain.EventSignalRejected:
			rejected++
			confRejected += toFloat(ev.Detail["confidence"])
		}
	}

	if executed > 0 {
		perf.AvgConfExecuted = confExecuted / float64(executed)
	}
	if rejected > 0 {
		perf.AvgConfRejected = confRejected / float64(rejected)
	}
	return perf
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// VersionStore is an in-memory immutable strategy version ledger.
type VersionStore struct {
	mu       sync.Mutex
	versions []domain.StrategyVersion
}

// NewVersionStore creates an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{}
}

// Append adds a new version to the ledger.
func (s *VersionStore) Append(_ context.Context, v domain.StrategyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.versions = append(s.versions, v)
	return nil
}

// Get returns the version with the given id.
func (s *VersionStore) Get(_ context.Context, id string) (domain.StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return domain.StrategyVersion{}, domain.ErrNotFound
}

// Current returns the most recently appended version.
func (s *VersionStore) Current(_ context.Context) (domain.StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return domain.StrategyVersion{}, domain.ErrNotFound
	}
	return s.versions[len(s.versions)-1], nil
}

// List returns versions oldest first.
func (s *VersionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.StrategyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.StrategyVersion, len(s.versions))
	copy(out, s.versions)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.EventStore           = (*EventStore)(nil)
	_ domain.StrategyVersionStore = (*VersionStore)(nil)
)
