package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	passIDKey
	userIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithPassID tags a context with the id of one sync pass.
func WithPassID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("pass_id", id)
	ctx = context.WithValue(ctx, passIDKey, id)
	return WithLogger(ctx, logger)
}

// WithUserID adds the signed-in user to context.
func WithUserID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("user_id", id)
	ctx = context.WithValue(ctx, userIDKey, id)
	return WithLogger(ctx, logger)
}

// GetPassID retrieves the sync pass ID from context.
func GetPassID(ctx context.Context) string {
	if id, ok := ctx.Value(passIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserID retrieves the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = newLogger(InfoLevel, "text", os.Stderr, false, "")

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
