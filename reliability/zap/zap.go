package zap

import (
	"context"
	"errors"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	logpkg "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// Logger is the production log.Logger. Every entry written with a context
// carries the request id and the active span ids, so a line from the HTTP
// layer, the outbox publisher and a consumer handler can be joined.
type Logger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

var _ logpkg.Logger = (*Logger)(nil)

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{logger: z, level: level}
}

func (l *Logger) core() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}

	return l.logger
}

// Log implements log.Logger.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	z := l.core()

	entry := z.Check(toZapLevel(level), msg)
	if entry == nil {
		return
	}

	entry.Write(append(toZapFields(fields), correlation(ctx)...)...)
}

func correlation(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}

	var out []zap.Field

	if id := reliability.HeaderIDFromContext(ctx); id != "" {
		out = append(out, zap.String("request_id", id))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return out
}

// With returns a child logger with additional fields.
//
//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return &Logger{logger: l.core().With(toZapFields(fields)...), level: l.Level()}
}

// WithGroup nests subsequent fields under name.
//
//nolint:ireturn
func (l *Logger) WithGroup(name string) logpkg.Logger {
	return &Logger{logger: l.core().With(zap.Namespace(name)), level: l.Level()}
}

// Enabled reports whether level would be written.
func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.core().Core().Enabled(toZapLevel(level))
}

// Sync flushes buffered entries. Sync errors from a terminal stderr are
// ignored; they are reported by the OS, not by a lost write.
func (l *Logger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() { done <- l.core().Sync() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}

		return err
	}
}

// Raw returns the underlying zap logger.
func (l *Logger) Raw() *zap.Logger {
	return l.core()
}

// Level returns the runtime-adjustable level.
func (l *Logger) Level() zap.AtomicLevel {
	if l == nil {
		return zap.NewAtomicLevel()
	}

	return l.level
}

func toZapLevel(level logpkg.Level) zapcore.Level {
	switch level {
	case logpkg.LevelDebug:
		return zapcore.DebugLevel
	case logpkg.LevelWarn:
		return zapcore.WarnLevel
	case logpkg.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []logpkg.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))

	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}

	return out
}
