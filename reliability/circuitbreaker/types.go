package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"
)

var (
	// ErrBreakerNotFound is returned for a name that was never registered.
	ErrBreakerNotFound = errors.New("circuit breaker not found")
	// ErrOpen is returned without calling through while a breaker rejects
	// traffic, both when open and when the half-open probes are used up.
	ErrOpen = errors.New("circuit breaker open")
)

// State is the breaker position as reported on /health.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

// Counts mirrors gobreaker.Counts for the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func countsOf(c gobreaker.Counts) Counts {
	return Counts(c)
}

// Listener observes transitions.
type Listener func(name string, from, to State)
