package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// GenerateTraceID creates a new trace ID for work that starts outside an
// HTTP request.
func GenerateTraceID() string {
	return uuid.New().String()
}

// ContextWithTraceID returns ctx with a freshly generated trace ID.
func ContextWithTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, GenerateTraceID())
}

// EnsureTraceID returns ctx unchanged when it already carries a trace ID,
// otherwise stamps a new one. Background jobs use this at the top of each
// unit of work.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		return ContextWithTraceID(ctx)
	}
	return ctx
}
