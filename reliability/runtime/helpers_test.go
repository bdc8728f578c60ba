//go:build unit

package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

type testLogger struct {
	log.NopLogger
	mu       sync.Mutex
	messages []string
	fields   []log.Field
	logged   chan struct{}
}

func newTestLogger() *testLogger {
	return &testLogger{logged: make(chan struct{}, 1)}
}

func (logger *testLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	logger.mu.Lock()
	logger.messages = append(logger.messages, msg)
	logger.fields = append(logger.fields, fields...)
	logger.mu.Unlock()

	select {
	case logger.logged <- struct{}{}:
	default:
	}
}

func (logger *testLogger) waitForLog(timeout time.Duration) bool {
	select {
	case <-logger.logged:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (logger *testLogger) field(key string) (any, bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	for _, f := range logger.fields {
		if f.Key == key {
			return f.Value, true
		}
	}

	return nil, false
}
