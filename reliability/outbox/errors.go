package outbox

import "errors"

var (
	ErrRowRequired             = errors.New("outbox row is required")
	ErrRepositoryRequired      = errors.New("outbox repository is required")
	ErrSinkRequired            = errors.New("outbox stream sink is required")
	ErrPublisherRequired       = errors.New("outbox publisher is required")
	ErrPublisherRunning        = errors.New("outbox publisher is already running")
	ErrStreamRequired          = errors.New("outbox stream is required")
	ErrPayloadRequired         = errors.New("outbox payload is required")
	ErrPayloadTooLarge         = errors.New("outbox payload exceeds maximum allowed size")
	ErrPayloadNotJSON          = errors.New("outbox payload must be valid JSON (stored as JSONB)")
	ErrTransactionRequired     = errors.New("outbox enqueue requires a transaction")
	ErrStoreUnavailable        = errors.New("outbox store unavailable")
	ErrStateTransitionConflict = errors.New("outbox row state transition conflict")
	ErrStatusInvalid           = errors.New("invalid outbox status")
	ErrTransitionInvalid       = errors.New("invalid outbox status transition")
	ErrRowNotFound             = errors.New("outbox row not found")
)
