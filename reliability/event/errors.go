package event

import "errors"

// ErrInvalidEvent marks schema violations. Consumers route these straight to
// the dead-letter stream without retrying.
var ErrInvalidEvent = errors.New("invalid event")
