package monitor

import "errors"

var (
	// ErrDisabled is returned by Start when monitoring.enabled is false.
	ErrDisabled = errors.New("monitoring disabled")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid monitoring config")
	// ErrInvalidSchedule wraps cron parse failures.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrNoTarget means no notification channel could be resolved.
	ErrNoTarget = errors.New("no notification channel available")
)
