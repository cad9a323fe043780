package logging

import (
	"context"

	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx: the active span, the
// tenant key and the request id.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if key, err := tenant.KeyFromContext(ctx); err == nil {
		fields = append(fields, TenantFields(key)...)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	return fields
}

// TenantFields renders a tenant key as log fields.
func TenantFields(key tenant.Key) []zap.Field {
	fields := []zap.Field{
		zap.String("user_id", key.UserID),
		zap.String("project_id", key.ProjectID.String()),
	}
	if key.DocumentID != uuid.Nil {
		fields = append(fields, zap.String("document_id", key.DocumentID.String()))
	}
	return fields
}

type requestCtxKey struct{}
type loggerCtxKey struct{}

// WithRequestID adds a request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
