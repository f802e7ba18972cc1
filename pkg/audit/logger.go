package audit

import (
	"context"
)

// Logger is the interface for audit logging. Implementations must not fail
// the caller's action, so Log has no error return.
type Logger interface {
	Log(ctx context.Context, event Event)
}

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}

// NoopLogger drops every event
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, Event) {}
