package observability

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Context keys for observability
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	changedByKey     contextKey = "changed_by"
)

// CorrelationIDHeader is the HTTP header carrying the correlation id
const CorrelationIDHeader = "Correlation-Id"

// NewCorrelationID generates a correlation id of the form req-<16 hex chars>
func NewCorrelationID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "req-" + hex[:16]
}

// GetCorrelationID gets the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// EnsureCorrelationID returns the context's correlation id, generating and
// attaching one when absent. Used by entry points that receive work from
// outside an HTTP request (consumers, jobs).
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// WithChangedBy records the acting principal for write operations
func WithChangedBy(ctx context.Context, changedBy string) context.Context {
	return context.WithValue(ctx, changedByKey, changedBy)
}

// GetChangedBy gets the acting principal from context
func GetChangedBy(ctx context.Context) string {
	if v, ok := ctx.Value(changedByKey).(string); ok {
		return v
	}
	return ""
}

// CtxLogger returns a logger with the context's correlation id bound to
// every record it emits
func CtxLogger(ctx context.Context, base Logger) Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return base.With(map[string]interface{}{"correlation_id": id})
	}
	return base
}
