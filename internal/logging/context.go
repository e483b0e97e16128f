package logging

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader is the header carrying the request id between services.
const RequestIDHeader = "X-Request-ID"

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
