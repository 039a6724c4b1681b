package pipeline

import (
	"fmt"
	"time"
)

// MarketHours answers whether the US equities regular session is open at a
// given instant: Monday through Friday, 09:30 to 16:00 Eastern. Exchange
// holidays are not modelled; a holiday pass simply finds no fills.
type MarketHours struct {
	loc *time.Location
}

// NewMarketHours loads the US/Eastern tzdata.
func NewMarketHours() (*MarketHours, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("pipeline: load market timezone: %w", err)
	}
	return &MarketHours{loc: loc}, nil
}

// IsOpen reports whether the regular session is open at t.
func (m *MarketHours) IsOpen(t time.Time) bool {
	et := t.In(m.loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
