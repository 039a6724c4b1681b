package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// DayArchiver implements domain.Archiver by serializing one day's event
// partition to JSONL and uploading it to cold storage.
//
// Rows are never deleted from the primary store here; retention is a
// separate, explicit operation run only after an archive has been verified.
type DayArchiver struct {
	writer domain.BlobWriter
	events domain.EventStore
	logger *slog.Logger
}

// NewDayArchiver creates a DayArchiver.
func NewDayArchiver(writer domain.BlobWriter, events domain.EventStore, logger *slog.Logger) *DayArchiver {
	return &DayArchiver{
		writer: writer,
		events: events,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveDay uploads the day's events to archive/events/YYYY-MM-DD.jsonl.
// A day with no events uploads nothing.
func (a *DayArchiver) ArchiveDay(ctx context.Context, day string) error {
	events, err := a.events.ListByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("s3blob: archive day %s query: %w", day, err)
	}
	if len(events) == 0 {
		a.logger.Debug("no events to archive", "day", day)
		return nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return fmt.Errorf("s3blob: archive day %s marshal: %w", day, err)
	}

	key := archiveKey(day)
	if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive day %s upload: %w", day, err)
	}

	a.logger.Info("archived event partition",
		"day", day,
		"key", key,
		"events", len(events),
	)
	return nil
}

// archiveKey builds the object key for one day partition.
func archiveKey(day string) string {
	return fmt.Sprintf("archive/events/%s.jsonl", day)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*DayArchiver)(nil)
