package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Config tunes one breaker.
type Config struct {
	// HalfOpenProbes is how many calls may pass while half-open.
	HalfOpenProbes uint32
	// Window clears closed-state counts; zero never clears them.
	Window time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// TripAfter opens the breaker after this many consecutive failures.
	TripAfter uint32
	// FailureRatio opens the breaker once MinRequests calls have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig suits database and HTTP dependencies.
func DefaultConfig() Config {
	return Config{
		HalfOpenProbes: 3,
		Window:         2 * time.Minute,
		Cooldown:       30 * time.Second,
		TripAfter:      15,
		FailureRatio:   0.5,
		MinRequests:    10,
	}
}

// BrokerConfig opens quickly so producers fall back to the outbox retry path
// instead of blocking on a dead Redis.
func BrokerConfig() Config {
	return Config{
		HalfOpenProbes: 2,
		Window:         time.Minute,
		Cooldown:       10 * time.Second,
		TripAfter:      5,
		FailureRatio:   0.5,
		MinRequests:    10,
	}
}

func (c Config) shouldTrip(counts gobreaker.Counts) bool {
	if c.TripAfter > 0 && counts.ConsecutiveFailures >= c.TripAfter {
		return true
	}

	if c.MinRequests == 0 || counts.Requests < c.MinRequests {
		return false
	}

	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func (c Config) settings(name string, onChange func(string, gobreaker.State, gobreaker.State)) gobreaker.Settings {
	return gobreaker.Settings{
		Name:          name,
		MaxRequests:   c.HalfOpenProbes,
		Interval:      c.Window,
		Timeout:       c.Cooldown,
		ReadyToTrip:   c.shouldTrip,
		OnStateChange: onChange,
	}
}
