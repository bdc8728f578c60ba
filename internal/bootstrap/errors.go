package bootstrap

import "errors"

// ErrMissingConfig is returned when a required variable is empty.
var ErrMissingConfig = errors.New("missing required configuration")
