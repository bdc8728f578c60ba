package log

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
)

var logControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func sanitizeLogString(s string) string {
	return logControlCharReplacer.Replace(s)
}

// GoLogger writes entries through the standard library logger. It is used
// for local runs and as a fallback when the zap adapter cannot be built.
//
// Control characters in messages and string values are escaped (CWE-117).
type GoLogger struct {
	Level  Level
	fields []Field
	group  string
}

// NewGoLogger creates a GoLogger at the given verbosity.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

// Log writes a single line when level is enabled.
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	var b strings.Builder

	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(sanitizeLogString(msg))

	for _, f := range append(append([]Field(nil), l.fields...), fields...) {
		b.WriteString(" ")
		b.WriteString(l.key(f.Key))
		b.WriteString("=")
		b.WriteString(renderValue(f.Value))
	}

	stdlog.Print(b.String())
}

// With returns a child logger carrying the extra fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	if l == nil {
		return NewNop()
	}

	child := &GoLogger{Level: l.Level, group: l.group}
	child.fields = append(append([]Field(nil), l.fields...), fields...)

	return child
}

// WithGroup returns a child logger that prefixes keys with name.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	if l == nil {
		return NewNop()
	}

	group := name
	if l.group != "" && name != "" {
		group = l.group + "." + name
	}

	return &GoLogger{Level: l.Level, fields: append([]Field(nil), l.fields...), group: group}
}

// Enabled reports whether entries at level are emitted.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return level >= l.Level
}

// Sync is a no-op for the standard library logger.
func (l *GoLogger) Sync(_ context.Context) error { return nil }

func (l *GoLogger) key(k string) string {
	if l.group == "" {
		return k
	}

	return l.group + "." + k
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return sanitizeLogString(val)
	case error:
		if val == nil {
			return "<nil>"
		}

		return sanitizeLogString(val.Error())
	default:
		return sanitizeLogString(fmt.Sprintf("%v", val))
	}
}
