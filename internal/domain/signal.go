package domain

import "time"

// SignalAction is the trade action proposed by a signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Signal is one parsed, typed trade proposal derived from a single line of an
// AI response. Signals are immutable once created; they are consumed exactly
// once by the risk filter and only ever persisted through the event log.
type Signal struct {
	ID         string // UUID for tracing through the event log
	Symbol     string
	Action     SignalAction
	Price      float64 // reference price; zero for HOLD
	Confidence int     // 0-100, clamped by the parser
	Reason     string
	StopLoss   float64 // optional; zero when the AI gave none
	Clamped    bool    // confidence was outside 0-100 in the raw text
	CreatedAt  time.Time
}

// RejectReason identifies which risk rule rejected a signal.
type RejectReason string

const (
	RejectHold          RejectReason = "hold"
	RejectLowConfidence RejectReason = "low confidence"
	RejectInvalidPrice  RejectReason = "invalid price"
	RejectDuplicate     RejectReason = "duplicate exposure"
	RejectZeroSize      RejectReason = "position size zero"
)

// RiskDecision is the accept/reject verdict for one signal, produced by the
// risk filter in input order. The signal is owned by reference, not copied.
type RiskDecision struct {
	Signal       *Signal
	Approved     bool
	Reason       RejectReason // set iff not approved
	PositionSize int64        // whole shares, set iff approved
}
