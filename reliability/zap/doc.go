// Package zap provides the production log.Logger adapter backed by
// go.uber.org/zap, with trace correlation and OpenTelemetry log export.
package zap
