//go:build unit

package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "simulation.events", cfg.StreamName)
	assert.Equal(t, "simulation.events.retry", cfg.RetryStreamName)
	assert.Equal(t, "simulation.events.dlq", cfg.DLQStreamName)
	assert.Equal(t, "gamification", cfg.ConsumerGroup)
	assert.Equal(t, int64(50000), cfg.StreamMaxLen)
	assert.Equal(t, int64(20000), cfg.RetryMaxLen)
	assert.Equal(t, int64(20000), cfg.DLQMaxLen)
	assert.Equal(t, 3, cfg.ConsumerRetryLimit)
	assert.Equal(t, time.Second, cfg.ConsumerBackoffBase())
	assert.Equal(t, 8*time.Second, cfg.ConsumerBackoffCap())
	assert.Equal(t, 5*time.Minute, cfg.TrimInterval())
	assert.Equal(t, time.Second, cfg.OutboxInterval())
	assert.Equal(t, time.Minute, cfg.OutboxLockTimeout())
	assert.Equal(t, 30*time.Second, cfg.OutboxBackoffCap())
	assert.Equal(t, 30*time.Second, cfg.RuleCacheTTL())
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.True(t, cfg.OutboxWorkerEnabled)
	assert.False(t, cfg.ConsumerUseRetryStream)
	assert.Empty(t, cfg.RetryStream())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_PRIMARY_DSN", "postgres://app@db/dpp")
	t.Setenv("STREAM_NAME", "custom.events")
	t.Setenv("CONSUMER_RETRY_LIMIT", "5")
	t.Setenv("CONSUMER_BACKOFF_BASE_MS", "250")
	t.Setenv("CONSUMER_USE_RETRY_STREAM", "true")
	t.Setenv("OUTBOX_WORKER_ENABLED", "false")
	t.Setenv("STREAM_MAXLEN", "1000")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "custom.events", cfg.StreamName)
	assert.Equal(t, 5, cfg.ConsumerRetryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.ConsumerBackoffBase())
	assert.True(t, cfg.ConsumerUseRetryStream)
	assert.Equal(t, "simulation.events.retry", cfg.RetryStream())
	assert.False(t, cfg.OutboxWorkerEnabled)
	assert.Equal(t, int64(1000), cfg.StreamMaxLen)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	t.Setenv("POSTGRES_PRIMARY_DSN", "postgres://app@db/dpp")
	t.Setenv("REDIS_DB", "not-a-number")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_DB")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "POSTGRES_PRIMARY_DSN")

	cfg.PostgresPrimaryDSN = "postgres://app@db/dpp"
	cfg.ConsumerGroup = " "
	cfg.StreamName = ""

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "CONSUMER_GROUP, STREAM_NAME")

	cfg = DefaultConfig()
	cfg.PostgresPrimaryDSN = "postgres://app@db/dpp"
	cfg.ConsumerUseRetryStream = true
	cfg.RetryStreamName = ""

	require.ErrorIs(t, cfg.Validate(), ErrMissingConfig)

	cfg.RetryStreamName = "retry"
	assert.NoError(t, cfg.Validate())
}
