package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestMarketHoursWeekdaySession(t *testing.T) {
	hours, err := NewMarketHours()
	require.NoError(t, err)
	loc := mustEastern(t)

	// Monday 2026-03-16.
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 16, 9, 29, 0, 0, loc)))
	assert.True(t, hours.IsOpen(time.Date(2026, 3, 16, 9, 30, 0, 0, loc)))
	assert.True(t, hours.IsOpen(time.Date(2026, 3, 16, 12, 0, 0, 0, loc)))
	assert.True(t, hours.IsOpen(time.Date(2026, 3, 16, 15, 59, 0, 0, loc)))
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 16, 16, 0, 0, 0, loc)))
}

func TestMarketHoursWeekendClosed(t *testing.T) {
	hours, err := NewMarketHours()
	require.NoError(t, err)
	loc := mustEastern(t)

	// Saturday and Sunday at midday.
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 14, 12, 0, 0, 0, loc)))
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 15, 12, 0, 0, 0, loc)))
}

func TestMarketHoursConvertsFromUTC(t *testing.T) {
	hours, err := NewMarketHours()
	require.NoError(t, err)

	// 2026-03-16 14:30 UTC is 10:30 Eastern (daylight time): open.
	assert.True(t, hours.IsOpen(time.Date(2026, 3, 16, 14, 30, 0, 0, time.UTC)))
	// 2026-03-16 21:00 UTC is 17:00 Eastern: closed.
	assert.False(t, hours.IsOpen(time.Date(2026, 3, 16, 21, 0, 0, 0, time.UTC)))
}
