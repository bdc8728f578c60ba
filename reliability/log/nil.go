package log

import (
	"context"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/internal/nilcheck"
)

// NopLogger discards everything. The zero value is ready to use and is what
// components fall back to when constructed without a logger.
type NopLogger struct{}

var nop Logger = NopLogger{}

// NewNop returns the shared discarding logger.
//
//nolint:ireturn
func NewNop() Logger { return nop }

// OrNop returns logger, or the discarding logger when logger is nil or a
// typed nil.
//
//nolint:ireturn
func OrNop(logger Logger) Logger {
	if nilcheck.Interface(logger) {
		return nop
	}

	return logger
}

func (NopLogger) Log(context.Context, Level, string, ...Field) {}

//nolint:ireturn
func (n NopLogger) With(...Field) Logger { return n }

//nolint:ireturn
func (n NopLogger) WithGroup(string) Logger { return n }

func (NopLogger) Enabled(Level) bool { return false }

func (NopLogger) Sync(context.Context) error { return nil }
