package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aitrader/internal/domain"
	"github.com/alanyoungcy/aitrader/internal/store/memory"
)

type captureWriter struct {
	key         string
	body        []byte
	contentType string
	calls       int
}

func (c *captureWriter) Write(_ context.Context, key string, body []byte, contentType string) error {
	c.key = key
	c.body = body
	c.contentType = contentType
	c.calls++
	return nil
}

func TestArchiveDayUploadsJSONL(t *testing.T) {
	events := memory.NewEventStore()
	at := time.Date(2026, 3, 16, 15, 0, 0, 0, time.UTC)
	for _, sym := range []string{"AAPL", "TSLA"} {
		require.NoError(t, events.Append(context.Background(), domain.Event{
			Type:      domain.EventSignalExecuted,
			Symbol:    sym,
			Detail:    map[string]any{"realized_pnl": 10.0},
			CreatedAt: at,
		}))
	}

	writer := &captureWriter{}
	arch := NewDayArchiver(writer, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, arch.ArchiveDay(context.Background(), "2026-03-16"))
	assert.Equal(t, "archive/events/2026-03-16.jsonl", writer.key)
	assert.Equal(t, "application/x-ndjson", writer.contentType)

	var lines int
	scanner := bufio.NewScanner(bytes.NewReader(writer.body))
	for scanner.Scan() {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestArchiveDayEmptyPartitionUploadsNothing(t *testing.T) {
	writer := &captureWriter{}
	arch := NewDayArchiver(writer, memory.NewEventStore(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, arch.ArchiveDay(context.Background(), "2026-03-16"))
	assert.Zero(t, writer.calls)
}
