package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderState tracks the order lifecycle. Transitions are monotonic: a
// terminal state (FILLED, REJECTED, CANCELLED, ERROR) is never left.
type OrderState string

const (
	OrderPendingSubmit   OrderState = "pending_submit"
	OrderSubmitted       OrderState = "submitted"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderRejected        OrderState = "rejected"
	OrderCancelled       OrderState = "cancelled"
	OrderError           OrderState = "error"
)

// Terminal reports whether the state is final for the order's lifecycle.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled, OrderError:
		return true
	}
	return false
}

// Order is a tracked unit of brokerage execution. The BrokerID is assigned
// only after submission acknowledgment. FilledQty and FilledPrice are updated
// only through state-transition events applied by the execution engine.
type Order struct {
	ID           string // internal UUID
	BrokerID     string // broker-assigned, empty until acked
	Symbol       string
	Side         OrderSide
	RequestedQty int64
	ReqPrice     float64 // intended reference price for slippage measurement
	State        OrderState
	FilledQty    int64
	FilledPrice  float64 // volume-weighted average fill price
	FailReason   string  // populated on REJECTED / ERROR
	SignalID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RemainingQty returns the unfilled share count.
func (o Order) RemainingQty() int64 {
	return o.RequestedQty - o.FilledQty
}

// OrderRequest is the payload handed to the broker for submission.
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Qty         int64
	LimitPrice  float64 // zero for market orders
	TimeInForce string  // e.g. "day"
}

// SubmitResult wraps the broker's response to an order submission.
type SubmitResult struct {
	Accepted bool
	BrokerID string
	Message  string // rejection detail when not accepted
}

// FillEvent is an asynchronous fill notification from the broker. TotalQty is
// the cumulative filled quantity for the order, which makes re-delivery of the
// same event idempotent by construction.
type FillEvent struct {
	BrokerID string
	TotalQty int64   // cumulative, not incremental
	AvgPrice float64 // volume-weighted average across all fills so far
	At       time.Time
}
