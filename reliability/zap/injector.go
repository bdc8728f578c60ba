package zap

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the logger profile.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

func (e Environment) verbose() bool {
	return e == EnvironmentDevelopment || e == EnvironmentLocal
}

// ErrOTelLibraryNameRequired is returned when Config.OTelLibraryName is empty.
var ErrOTelLibraryNameRequired = errors.New("OTelLibraryName is required")

// Config holds logger inputs.
type Config struct {
	Environment     Environment
	Level           string
	OTelLibraryName string
	// ServiceName is attached to every entry when set.
	ServiceName string
}

// New builds a JSON logger teed into the OpenTelemetry log bridge.
func New(cfg Config) (*Logger, error) {
	if strings.TrimSpace(cfg.OTelLibraryName) == "" {
		return nil, fmt.Errorf("invalid zap config: %w", ErrOTelLibraryNameRequired)
	}

	switch cfg.Environment {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment, EnvironmentLocal:
	default:
		return nil, fmt.Errorf("invalid zap config: environment %q", cfg.Environment)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Environment.verbose() {
		level.SetLevel(zapcore.DebugLevel)
	}

	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", raw, err)
		}

		level.SetLevel(parsed)
	}

	zc := zap.NewProductionConfig()
	if cfg.Environment.verbose() {
		zc = zap.NewDevelopmentConfig()
	}

	zc.Encoding = "json"
	zc.Level = level
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.ServiceName != "" {
		zc.InitialFields = map[string]any{"service": cfg.ServiceName, "env": string(cfg.Environment)}
	}

	built, err := zc.Build(
		zap.AddCallerSkip(1),
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, otelzap.NewCore(cfg.OTelLibraryName))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{logger: built, level: level}, nil
}
