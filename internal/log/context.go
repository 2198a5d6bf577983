package log

import "context"

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// TraceIDKey is the context key for trace IDs.
	TraceIDKey ContextKey = "trace_id"
	// FieldsKey is the context key for additional log fields.
	FieldsKey ContextKey = "log_fields"
)

// Fields is a collection of structured log fields carried in a context.
type Fields map[string]any

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID returns the trace ID stored in the context, if any.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithFields merges log fields into the context; new fields overwrite
// existing ones of the same name.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := make(Fields, len(fields))
	for k, v := range FieldsFrom(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, FieldsKey, merged)
}

// FieldsFrom returns the log fields stored in the context.
// Returns an empty Fields if none are found.
func FieldsFrom(ctx context.Context) Fields {
	if fields, ok := ctx.Value(FieldsKey).(Fields); ok {
		return fields
	}
	return Fields{}
}
