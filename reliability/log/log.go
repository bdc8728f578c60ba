package log

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is implemented by the zap adapter, GoLogger and NopLogger.
type Logger interface {
	Log(ctx context.Context, level Level, msg string, fields ...Field)
	With(fields ...Field) Logger
	WithGroup(name string) Logger
	Enabled(level Level) bool
	Sync(ctx context.Context) error
}

// Level is an entry severity. Higher values are more severe; a logger at
// LevelInfo writes Info, Warn and Error.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}

	return "unknown"
}

// ParseLevel accepts the LOG_LEVEL spellings, case-insensitively.
func ParseLevel(lvl string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}

	for level, candidate := range levelNames {
		if candidate == name {
			return level, nil
		}
	}

	return LevelInfo, fmt.Errorf("not a valid Level: %q", lvl)
}

// Field is one key/value attribute of an entry.
type Field struct {
	Key   string
	Value any
}

// Any attaches an arbitrary value. Event payloads must not be logged with it.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a 64-bit integer field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// EventID tags an entry with the pipeline event it concerns.
func EventID(id string) Field {
	return Field{Key: "event_id", Value: id}
}

// Stream tags an entry with a Redis stream name.
func Stream(name string) Field {
	return Field{Key: "stream", Value: name}
}

// Err creates the conventional `error` field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
