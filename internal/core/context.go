package core

import "context"

type contextKey string

const requestIDKey contextKey = "request-id"

// WithRequestID attaches a correlation id that the transport sends as
// X-Request-ID on every API call made with ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the correlation id attached to ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
