package steps

import "errors"

var (
	ErrHandlerRequired  = errors.New("step handler is required")
	ErrActionRequired   = errors.New("step action is required")
	ErrDuplicateAction  = errors.New("step action already registered")
	ErrSessionRequired  = errors.New("step session id is required")
	ErrStoryRequired    = errors.New("step story code is required")
	ErrInvalidStepIndex = errors.New("step index must not be negative")
	ErrReceiptsRequired = errors.New("step receipt store is required")
	ErrDatabaseRequired = errors.New("step database is required")
	ErrEmitterRequired  = errors.New("step event emitter is required")
	ErrRegistryRequired = errors.New("step action registry is required")
	ErrReceiptConflict  = errors.New("step receipt already stored")
)
