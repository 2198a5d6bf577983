// Package log wraps slog with trace-id and field propagation via context.
package log

import (
	"context"
	"log/slog"
)

// FromContext returns the default logger enriched with the trace ID and any
// log fields carried in the context.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := TraceID(ctx); id != "" {
		logger = logger.With("trace_id", id)
	}
	for k, v := range FieldsFrom(ctx) {
		logger = logger.With(k, v)
	}
	return logger
}

// Info logs at Info level with trace_id and fields extracted from context.
func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// Warn logs at Warn level with trace_id and fields extracted from context.
func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Error logs at Error level with trace_id and fields extracted from context.
func Error(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}

// Debug logs at Debug level with trace_id and fields extracted from context.
func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}
