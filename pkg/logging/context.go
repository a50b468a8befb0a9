package logging

import "context"

type contextKey string

const traceIDKey contextKey = "trace_id"

// ContextWithTraceID attaches a job trace id to ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id set by ContextWithTraceID.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(traceIDKey).(string)
	return id, ok && id != ""
}
