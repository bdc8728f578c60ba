package postgres

import "errors"

var (
	// ErrInvalidConfig indicates invalid postgres configuration.
	ErrInvalidConfig = errors.New("invalid postgres config")
	// ErrNotConnected indicates operations requiring an active connection were called before connect.
	ErrNotConnected = errors.New("postgres client is not connected")
	// ErrInvalidDatabaseName indicates an invalid database identifier.
	ErrInvalidDatabaseName = errors.New("invalid database name")
	// ErrNilClient is returned when a method is called on a nil *Client.
	ErrNilClient = errors.New("postgres client is nil")
	// ErrNilContext is returned when a required context is nil.
	ErrNilContext = errors.New("context is nil")
	// ErrNoPrimaryDB is returned when the resolver has no primary handle.
	ErrNoPrimaryDB = errors.New("no primary database configured")
)

// SanitizedError wraps a connection error whose message had credentials removed.
// Unwrap keeps the original chain for errors.Is checks.
type SanitizedError struct {
	Message string
	Err     error
}

func (e *SanitizedError) Error() string { return e.Message }

func (e *SanitizedError) Unwrap() error { return e.Err }

func newSanitizedError(prefix string, err error) error {
	if err == nil {
		return nil
	}

	return &SanitizedError{Message: prefix + ": " + sanitizeSensitiveString(err.Error()), Err: err}
}
