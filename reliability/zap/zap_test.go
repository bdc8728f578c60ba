//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	logpkg "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

func newObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return Wrap(zap.New(core), zap.NewAtomicLevelAt(level)), logs
}

func TestLogger_LevelsAndFields(t *testing.T) {
	logger, logs := newObserved(zapcore.InfoLevel)

	logger.Log(context.Background(), logpkg.LevelDebug, "skipped")
	logger.Log(context.Background(), logpkg.LevelWarn, "requeued", logpkg.String("stream", "simulation.events"), logpkg.Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "simulation.events", entries[0].ContextMap()["stream"])
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestLogger_AddsTraceCorrelation(t *testing.T) {
	logger, logs := newObserved(zapcore.DebugLevel)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "published")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestLogger_EnabledAndWith(t *testing.T) {
	logger, logs := newObserved(zapcore.WarnLevel)

	assert.True(t, logger.Enabled(logpkg.LevelError))
	assert.False(t, logger.Enabled(logpkg.LevelInfo))

	child := logger.With(logpkg.String("component", "outbox"))
	child.Log(context.Background(), logpkg.LevelError, "failed")

	assert.Equal(t, "outbox", logs.All()[0].ContextMap()["component"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger

	assert.NotPanics(t, func() {
		logger.Log(context.Background(), logpkg.LevelError, "nothing")
	})
}

func TestLogger_AddsRequestID(t *testing.T) {
	logger, logs := newObserved(zapcore.DebugLevel)

	ctx := reliability.ContextWithHeaderID(context.Background(), "req-42")
	logger.Log(ctx, logpkg.LevelInfo, "step executed", logpkg.Int("step_index", 2), logpkg.Bool("replay", true))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.EqualValues(t, 2, fields["step_index"])
	assert.Equal(t, true, fields["replay"])
	assert.NotContains(t, fields, "trace_id")
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(Config{Environment: EnvironmentLocal})
	require.ErrorIs(t, err, ErrOTelLibraryNameRequired)

	_, err = New(Config{Environment: "moon", OTelLibraryName: "pipeline"})
	require.Error(t, err)

	_, err = New(Config{Environment: EnvironmentProduction, OTelLibraryName: "pipeline", Level: "loud"})
	require.Error(t, err)

	logger, err := New(Config{Environment: EnvironmentProduction, OTelLibraryName: "pipeline", Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, logger.Level().Level())
}
