// Package contextkeys holds the context key definitions shared across the
// service. Defining them in one place prevents typos and key collisions
// between packages.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey carries the authenticated caller.
	// Set by middleware.IdentityMiddleware, read by mutation handlers for
	// the audit performer and by the decision gateway.
	// Type: *middleware.Identity
	IdentityKey Key = "identity"

	// RequestIDKey carries the request ID assigned by
	// middleware.RequestIDMiddleware.
	// Type: string
	RequestIDKey Key = "request_id"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds the request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context, or "" when the
// middleware did not run.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
