package logging

import "context"

type requestIDKey struct{}

// ContextWithRequestID stores the request identifier assigned at the HTTP edge.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the identifier stored by ContextWithRequestID,
// or "" when there is none.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
