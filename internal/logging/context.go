package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	issueKeyCtxKey   struct{}
	repositoryCtxKey struct{}
	passIDCtxKey     struct{}
	requestIDCtxKey  struct{}
	loggerCtxKey     struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := IssueKeyFromContext(ctx); v != "" {
		fields = append(fields, zap.String("issue.key", v))
	}
	if v := stringValue(ctx, repositoryCtxKey{}); v != "" {
		fields = append(fields, zap.String("repository", v))
	}
	if v := stringValue(ctx, passIDCtxKey{}); v != "" {
		fields = append(fields, zap.String("pass.id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key interface{}) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// WithIssueKey tags ctx with the work item being processed.
func WithIssueKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, issueKeyCtxKey{}, key)
}

// IssueKeyFromContext returns the work item key, if any.
func IssueKeyFromContext(ctx context.Context) string {
	return stringValue(ctx, issueKeyCtxKey{})
}

// WithRepository tags ctx with the target repository ("owner/name").
func WithRepository(ctx context.Context, repo string) context.Context {
	if repo == "" {
		return ctx
	}
	return context.WithValue(ctx, repositoryCtxKey{}, repo)
}

// WithPassID tags ctx with the reconciliation pass identifier.
func WithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passIDCtxKey{}, id)
}

// WithRequestID tags ctx with the inbound HTTP request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext returns the inbound request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDCtxKey{})
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Nop()
}
