package consumer

import (
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultRetryLimit       = 3
	DefaultBackoffBase      = time.Second
	DefaultBackoffCap       = 8 * time.Second
	DefaultBlock            = 5 * time.Second
	DefaultCount            = 10
	DefaultReadErrorBackoff = 2 * time.Second
)

// Config configures a Consumer.
type Config struct {
	Stream string
	Group  string
	// Consumer is this instance's name inside the group. Defaults to the
	// host name.
	Consumer  string
	DLQStream string
	// RetryStream receives requeued messages. Empty means the primary
	// stream. When it differs from Stream a RetryRelay must run, and the
	// consumer does not wait out the backoff itself.
	RetryStream      string
	RetryLimit       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	Block            time.Duration
	Count            int64
	ReadErrorBackoff time.Duration
	MeterProvider    metric.MeterProvider
}

// DefaultConfig returns the consumer defaults.
func DefaultConfig() Config {
	return Config{
		RetryLimit:       DefaultRetryLimit,
		BackoffBase:      DefaultBackoffBase,
		BackoffCap:       DefaultBackoffCap,
		Block:            DefaultBlock,
		Count:            DefaultCount,
		ReadErrorBackoff: DefaultReadErrorBackoff,
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()

	cfg.Stream = strings.TrimSpace(cfg.Stream)
	cfg.Group = strings.TrimSpace(cfg.Group)
	cfg.DLQStream = strings.TrimSpace(cfg.DLQStream)
	cfg.RetryStream = strings.TrimSpace(cfg.RetryStream)

	if strings.TrimSpace(cfg.Consumer) == "" {
		cfg.Consumer = defaultConsumerName()
	}

	if cfg.RetryStream == "" {
		cfg.RetryStream = cfg.Stream
	}

	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaults.RetryLimit
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}

	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaults.BackoffCap
	}

	if cfg.Block <= 0 {
		cfg.Block = defaults.Block
	}

	if cfg.Count <= 0 {
		cfg.Count = defaults.Count
	}

	if cfg.ReadErrorBackoff <= 0 {
		cfg.ReadErrorBackoff = defaults.ReadErrorBackoff
	}
}

func (cfg Config) validate() error {
	switch {
	case cfg.Stream == "":
		return ErrStreamRequired
	case cfg.Group == "":
		return ErrGroupRequired
	case cfg.DLQStream == "":
		return ErrDLQRequired
	}

	return nil
}

// usesRetryStream reports whether requeues leave the primary stream.
func (cfg Config) usesRetryStream() bool {
	return cfg.RetryStream != cfg.Stream
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "consumer"
	}

	return host
}
