package outbox

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
)

const (
	defaultPublishInterval = time.Second
	defaultBatchSize       = 50
	defaultLockTimeout     = 60 * time.Second
	defaultBackoffBase     = time.Second
	defaultBackoffCap      = 30 * time.Second
)

// PublisherConfig controls polling, claiming and retry backoff.
type PublisherConfig struct {
	// PublishInterval is the pause between publish cycles.
	PublishInterval time.Duration
	// BatchSize is the max number of rows claimed per cycle.
	BatchSize int
	// LockTimeout is the age after which a processing row may be reclaimed.
	LockTimeout time.Duration
	// BackoffBase and BackoffCap bound the retry delay: min(base*2^attempts, cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MeterProvider overrides the global meter provider when set.
	MeterProvider metric.MeterProvider
}

// DefaultPublisherConfig returns the baseline publisher configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		PublishInterval: defaultPublishInterval,
		BatchSize:       defaultBatchSize,
		LockTimeout:     defaultLockTimeout,
		BackoffBase:     defaultBackoffBase,
		BackoffCap:      defaultBackoffCap,
	}
}

func (cfg *PublisherConfig) normalize() {
	defaults := DefaultPublisherConfig()

	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = defaults.PublishInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}

	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}
}

// PublisherOption mutates publisher configuration at construction.
type PublisherOption func(*Publisher)

// WithBatchSize sets the maximum rows claimed in one cycle.
func WithBatchSize(size int) PublisherOption {
	return func(publisher *Publisher) {
		if size > 0 {
			publisher.cfg.BatchSize = size
		}
	}
}

// WithPublishInterval sets the pause between cycles.
func WithPublishInterval(interval time.Duration) PublisherOption {
	return func(publisher *Publisher) {
		if interval > 0 {
			publisher.cfg.PublishInterval = interval
		}
	}
}

// WithLockTimeout sets the stale-lock takeover age.
func WithLockTimeout(timeout time.Duration) PublisherOption {
	return func(publisher *Publisher) {
		if timeout > 0 {
			publisher.cfg.LockTimeout = timeout
		}
	}
}

// WithBackoff sets the retry backoff base and cap.
func WithBackoff(base, ceiling time.Duration) PublisherOption {
	return func(publisher *Publisher) {
		if base > 0 {
			publisher.cfg.BackoffBase = base
		}

		if ceiling > 0 {
			publisher.cfg.BackoffCap = ceiling
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) PublisherOption {
	return func(publisher *Publisher) {
		if nilcheck.Interface(provider) {
			return
		}

		publisher.cfg.MeterProvider = provider
	}
}
