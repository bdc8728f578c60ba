package bootstrap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/consumer"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/rules"
)

// ApplicationName names the process in logs and telemetry.
const ApplicationName = "event-pipeline"

// Config is the top level configuration struct for the entire application.
type Config struct {
	EnvName         string `env:"ENV_NAME"`
	Version         string `env:"VERSION"`
	LogLevel        string `env:"LOG_LEVEL"`
	OtelLibraryName string `env:"OTEL_LIBRARY_NAME"`
	ServerAddress   string `env:"SERVER_ADDRESS"`
	SourceService   string `env:"SOURCE_SERVICE"`

	PostgresPrimaryDSN  string `env:"POSTGRES_PRIMARY_DSN"`
	PostgresReplicaDSN  string `env:"POSTGRES_REPLICA_DSN"`
	PostgresDBName      string `env:"POSTGRES_DB_NAME"`
	PostgresMaxOpenConn int    `env:"POSTGRES_MAX_OPEN_CONNS"`
	PostgresMaxIdleConn int    `env:"POSTGRES_MAX_IDLE_CONNS"`
	MigrationsEnabled   bool   `env:"POSTGRES_MIGRATIONS_ENABLED"`

	RedisAddress    string `env:"REDIS_ADDRESS"`
	RedisMasterName string `env:"REDIS_MASTER_NAME"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB"`

	StreamName       string `env:"STREAM_NAME"`
	RetryStreamName  string `env:"RETRY_STREAM_NAME"`
	DLQStreamName    string `env:"DLQ_STREAM_NAME"`
	ConsumerGroup    string `env:"CONSUMER_GROUP"`
	ConsumerName     string `env:"CONSUMER_NAME"`
	StreamMaxLen     int64  `env:"STREAM_MAXLEN"`
	RetryMaxLen      int64  `env:"RETRY_STREAM_MAXLEN"`
	DLQMaxLen        int64  `env:"DLQ_STREAM_MAXLEN"`
	TrimIntervalSecs int    `env:"STREAM_TRIM_INTERVAL_SECONDS"`

	ConsumerEnabled        bool `env:"CONSUMER_ENABLED"`
	ConsumerRetryLimit     int  `env:"CONSUMER_RETRY_LIMIT"`
	ConsumerBackoffBaseMS  int  `env:"CONSUMER_BACKOFF_BASE_MS"`
	ConsumerBackoffCapMS   int  `env:"CONSUMER_BACKOFF_CAP_MS"`
	ConsumerUseRetryStream bool `env:"CONSUMER_USE_RETRY_STREAM"`

	OutboxWorkerEnabled     bool `env:"OUTBOX_WORKER_ENABLED"`
	OutboxBatchSize         int  `env:"OUTBOX_PUBLISH_BATCH_SIZE"`
	OutboxIntervalMS        int  `env:"OUTBOX_PUBLISH_INTERVAL_MS"`
	OutboxLockTimeoutSecs   int  `env:"OUTBOX_LOCK_TIMEOUT_SECONDS"`
	OutboxBackoffCapSeconds int  `env:"OUTBOX_BACKOFF_CAP_SECONDS"`

	RuleCacheTTLSeconds int    `env:"RULE_CACHE_TTL_SECONDS"`
	PointRulesFile      string `env:"POINT_RULES_FILE"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		EnvName:                 "local",
		Version:                 "NO-VERSION",
		OtelLibraryName:         "github.com/hadijannat/dpp-simulation-playground-sub000",
		ServerAddress:           ":8080",
		SourceService:           "simulation-engine",
		PostgresDBName:          "dpp_playground",
		MigrationsEnabled:       true,
		RedisAddress:            "localhost:6379",
		StreamName:              "simulation.events",
		RetryStreamName:         "simulation.events.retry",
		DLQStreamName:           "simulation.events.dlq",
		ConsumerGroup:           "gamification",
		StreamMaxLen:            50000,
		RetryMaxLen:             20000,
		DLQMaxLen:               20000,
		TrimIntervalSecs:        300,
		ConsumerEnabled:         true,
		ConsumerRetryLimit:      consumer.DefaultRetryLimit,
		ConsumerBackoffBaseMS:   1000,
		ConsumerBackoffCapMS:    8000,
		OutboxWorkerEnabled:     true,
		OutboxBatchSize:         50,
		OutboxIntervalMS:        1000,
		OutboxLockTimeoutSecs:   60,
		OutboxBackoffCapSeconds: 30,
		RuleCacheTTLSeconds:     int(rules.DefaultTTL / time.Second),
		ShutdownTimeout:         30 * time.Second,
	}
}

// LoadConfig reads the environment over DefaultConfig.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if err := reliability.SetConfigFromEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings the wiring cannot start without.
func (cfg Config) Validate() error {
	var missing []string

	for name, value := range map[string]string{
		"POSTGRES_PRIMARY_DSN": cfg.PostgresPrimaryDSN,
		"REDIS_ADDRESS":        cfg.RedisAddress,
		"STREAM_NAME":          cfg.StreamName,
		"DLQ_STREAM_NAME":      cfg.DLQStreamName,
		"CONSUMER_GROUP":       cfg.ConsumerGroup,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)

		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	if cfg.ConsumerUseRetryStream && strings.TrimSpace(cfg.RetryStreamName) == "" {
		return fmt.Errorf("%w: RETRY_STREAM_NAME", ErrMissingConfig)
	}

	return nil
}

// RetryStream is the requeue target seen by the consumer. Empty means the
// primary stream.
func (cfg Config) RetryStream() string {
	if cfg.ConsumerUseRetryStream {
		return cfg.RetryStreamName
	}

	return ""
}

// TrimInterval is clamped to consumer.MinTrimInterval by the trimmer itself.
func (cfg Config) TrimInterval() time.Duration {
	return time.Duration(cfg.TrimIntervalSecs) * time.Second
}

func (cfg Config) ConsumerBackoffBase() time.Duration {
	return time.Duration(cfg.ConsumerBackoffBaseMS) * time.Millisecond
}

func (cfg Config) ConsumerBackoffCap() time.Duration {
	return time.Duration(cfg.ConsumerBackoffCapMS) * time.Millisecond
}

func (cfg Config) OutboxInterval() time.Duration {
	return time.Duration(cfg.OutboxIntervalMS) * time.Millisecond
}

func (cfg Config) OutboxLockTimeout() time.Duration {
	return time.Duration(cfg.OutboxLockTimeoutSecs) * time.Second
}

func (cfg Config) OutboxBackoffCap() time.Duration {
	return time.Duration(cfg.OutboxBackoffCapSeconds) * time.Second
}

// RuleCacheTTL is clamped to rules.MinTTL by the cache itself.
func (cfg Config) RuleCacheTTL() time.Duration {
	return time.Duration(cfg.RuleCacheTTLSeconds) * time.Second
}
