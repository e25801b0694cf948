package logger

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the ID that correlates log lines of one unit of
// work: an HTTP request, a NATS message or the sync job it started. An empty
// id leaves ctx untouched.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the ID set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
