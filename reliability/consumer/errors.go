package consumer

import "errors"

var (
	ErrBrokerRequired   = errors.New("stream broker is required")
	ErrHandlerRequired  = errors.New("consumer handler is required")
	ErrStreamRequired   = errors.New("consumer stream is required")
	ErrGroupRequired    = errors.New("consumer group is required")
	ErrDLQRequired      = errors.New("dead-letter stream is required")
	ErrAlreadyRunning   = errors.New("worker is already running")
	ErrNotConfigured    = errors.New("worker is not configured")
	ErrHandlerPanicked  = errors.New("handler panicked")
	ErrTrimTargetsEmpty = errors.New("at least one trim target is required")
)
