package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// GenerateTraceID creates a new unique trace ID.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// TraceIDFromContext retrieves the trace ID from context, or "" if absent.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

// EnsureTraceID returns a context that carries a trace ID, generating one
// when the incoming context has none.
func EnsureTraceID(ctx context.Context) context.Context {
	if TraceIDFromContext(ctx) == "" {
		return WithTraceID(ctx, GenerateTraceID())
	}
	return ctx
}
