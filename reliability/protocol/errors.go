package protocol

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("protocol entity not found")
	ErrInvalidInput      = errors.New("invalid protocol input")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStoreRequired     = errors.New("protocol store is required")
	ErrDatabaseRequired  = errors.New("protocol database is required")
	ErrEmitterRequired   = errors.New("protocol event emitter is required")
	ErrDuplicateAction   = errors.New("duplicate protocol action")
	ErrUnknownState      = errors.New("action targets a state outside the machine")
)

// InputError lists missing required fields. It matches ErrInvalidInput.
type InputError struct {
	Fields []string
}

func (e *InputError) Error() string {
	return ErrInvalidInput.Error() + ": missing " + strings.Join(e.Fields, ", ")
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}
