//go:build unit

package reliability

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenvOrDefault(t *testing.T) {
	t.Setenv("STREAM_NAME", "  custom.events ")
	assert.Equal(t, "custom.events", GetenvOrDefault("STREAM_NAME", "simulation.events"))

	t.Setenv("STREAM_NAME", "   ")
	assert.Equal(t, "simulation.events", GetenvOrDefault("STREAM_NAME", "simulation.events"))
}

func TestGetenvBoolOrDefault(t *testing.T) {
	t.Setenv("OUTBOX_WORKER_ENABLED", "false")
	assert.False(t, GetenvBoolOrDefault("OUTBOX_WORKER_ENABLED", true))

	t.Setenv("OUTBOX_WORKER_ENABLED", "maybe")
	assert.True(t, GetenvBoolOrDefault("OUTBOX_WORKER_ENABLED", true))
}

func TestGetenvIntOrDefault(t *testing.T) {
	t.Setenv("STREAM_MAXLEN", "1000")
	assert.Equal(t, int64(1000), GetenvIntOrDefault("STREAM_MAXLEN", 50000))

	t.Setenv("STREAM_MAXLEN", "-5")
	assert.Equal(t, int64(-5), GetenvIntOrDefault("STREAM_MAXLEN", 50000))

	t.Setenv("STREAM_MAXLEN", "lots")
	assert.Equal(t, int64(50000), GetenvIntOrDefault("STREAM_MAXLEN", 50000))
}

func TestSetConfigFromEnvVars_Success(t *testing.T) {
	type Config struct {
		StringField   string        `env:"TEST_STRING_FIELD"`
		BoolField     bool          `env:"TEST_BOOL_FIELD"`
		IntField      int64         `env:"TEST_INT_FIELD"`
		PlainInt      int           `env:"TEST_PLAIN_INT"`
		DurationField time.Duration `env:"TEST_DURATION_FIELD"`
		Untagged      string
	}

	t.Setenv("TEST_STRING_FIELD", "test-value")
	t.Setenv("TEST_BOOL_FIELD", "true")
	t.Setenv("TEST_INT_FIELD", "123")
	t.Setenv("TEST_PLAIN_INT", "7")
	t.Setenv("TEST_DURATION_FIELD", "250ms")

	config := &Config{Untagged: "kept"}
	require.NoError(t, SetConfigFromEnvVars(config))

	assert.Equal(t, "test-value", config.StringField)
	assert.True(t, config.BoolField)
	assert.Equal(t, int64(123), config.IntField)
	assert.Equal(t, 7, config.PlainInt)
	assert.Equal(t, 250*time.Millisecond, config.DurationField)
	assert.Equal(t, "kept", config.Untagged)
}

func TestSetConfigFromEnvVars_KeepsDefaultsWhenUnset(t *testing.T) {
	type Config struct {
		Group string `env:"TEST_MISSING_GROUP_XYZ"`
	}

	t.Setenv("TEST_MISSING_GROUP_XYZ", "")
	require.NoError(t, os.Unsetenv("TEST_MISSING_GROUP_XYZ"))

	config := &Config{Group: "gamification"}
	require.NoError(t, SetConfigFromEnvVars(config))
	assert.Equal(t, "gamification", config.Group)
}

func TestSetConfigFromEnvVars_Errors(t *testing.T) {
	type Config struct {
		Limit int64 `env:"TEST_BAD_LIMIT"`
	}

	assert.ErrorIs(t, SetConfigFromEnvVars(Config{}), ErrNotPointer)

	var nilConfig *Config
	assert.ErrorIs(t, SetConfigFromEnvVars(nilConfig), ErrNotPointer)

	t.Setenv("TEST_BAD_LIMIT", "ten")
	err := SetConfigFromEnvVars(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_BAD_LIMIT")
}

func TestInitLocalEnvConfigLoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PIPELINE_DOTENV_PROBE=loaded\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("PIPELINE_DOTENV_PROBE")
	})

	t.Setenv("VERSION", "1.2.3")
	t.Setenv("ENV_NAME", "local")

	localEnvConfig = nil
	localEnvConfigOnce = sync.Once{}

	output := captureStdout(t, func() {
		cfg := InitLocalEnvConfig()
		require.NotNil(t, cfg)
		assert.True(t, cfg.Initialized)
	})

	assert.Contains(t, output, "VERSION: 1.2.3\n\nENVIRONMENT NAME: local\n\n")
	assert.Equal(t, "loaded", os.Getenv("PIPELINE_DOTENV_PROBE"))
}

func TestInitLocalEnvConfigPrintsVersionAndEnvironment(t *testing.T) {
	t.Setenv("VERSION", "NO-VERSION")
	t.Setenv("ENV_NAME", "development")

	localEnvConfig = nil
	localEnvConfigOnce = sync.Once{}

	output := captureStdout(t, func() {
		cfg := InitLocalEnvConfig()
		assert.False(t, cfg.Initialized)
	})

	want := "VERSION: NO-VERSION\n\nENVIRONMENT NAME: development\n\n"
	if !strings.Contains(output, want) {
		t.Fatalf("unexpected output. got: %q", output)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	stdout := os.Stdout
	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = writer

	var output bytes.Buffer
	copyDone := make(chan struct{})

	go func() {
		_, _ = io.Copy(&output, reader)
		close(copyDone)
	}()

	fn()

	require.NoError(t, writer.Close())
	<-copyDone

	os.Stdout = stdout
	require.NoError(t, reader.Close())

	return output.String()
}
