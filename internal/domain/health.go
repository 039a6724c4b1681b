package domain

import "time"

// Service identifies one external dependency tracked by the health gate.
type Service string

const (
	ServiceBroker   Service = "broker"
	ServiceData     Service = "data"
	ServiceAI       Service = "ai"
	ServiceNotifier Service = "notifier"
)

// HealthState is a snapshot of one service's availability and remaining call
// budget. It is updated after every external call attempt and read before
// every attempt.
type HealthState struct {
	Service        Service
	Available      bool
	LastError      string
	CallsRemaining int
	WindowResetAt  time.Time
}
