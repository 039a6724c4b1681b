package alpaca

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/aitrader/internal/domain"
)

// Wire types for the Alpaca trading API. Numeric fields arrive as strings.

type accountResponse struct {
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"` // negative for short
	AvgEntryPrice string `json:"avg_entry_price"`
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice string     `json:"filled_avg_price"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mapOrderStatus translates an Alpaca order status string to the internal
// lifecycle state. Unknown working statuses map to SUBMITTED.
func mapOrderStatus(status string) domain.OrderState {
	switch status {
	case "filled":
		return domain.OrderFilled
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderCancelled
	case "rejected", "stopped", "suspended":
		return domain.OrderRejected
	default:
		return domain.OrderSubmitted
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int64 {
	// Alpaca reports fractional quantities as decimals; whole-share trading
	// only ever sees integers here.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
