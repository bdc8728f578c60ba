package outbox

import "fmt"

// Status is an outbox row lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
)

// ParseStatus validates and converts a raw string status.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the outbox lifecycle.
func (status Status) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusPublished:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is allowed.
// processing -> processing is a stale-lock takeover by another worker.
func (status Status) CanTransitionTo(next Status) bool {
	switch status {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusPending || next == StatusPublished
	default:
		return false
	}
}

// ValidateTransition validates a status transition using typed lifecycle rules.
func ValidateTransition(fromRaw, toRaw string) error {
	from, err := ParseStatus(fromRaw)
	if err != nil {
		return fmt.Errorf("from status: %w", err)
	}

	to, err := ParseStatus(toRaw)
	if err != nil {
		return fmt.Errorf("to status: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionInvalid, from, to)
	}

	return nil
}

func (status Status) String() string {
	return string(status)
}
