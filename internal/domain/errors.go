package domain

import "errors"

var (
	ErrTransport        = errors.New("transport fault")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrBrokerRejected   = errors.New("order rejected by broker")
	ErrUnavailable      = errors.New("service unavailable")
	ErrNotFound         = errors.New("not found")
	ErrInsufficientData = errors.New("insufficient sample size")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrShuttingDown     = errors.New("shutting down")
)
