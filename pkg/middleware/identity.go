package middleware

import (
	"net/http"

	"github.com/launchdesk/gatekeeper/pkg/contextkeys"
)

// Identity is the authenticated caller as asserted by the fronting proxy.
// Authentication itself happens upstream; this service only consumes the
// identity header the proxy injects after verifying the session.
type Identity struct {
	Email string
}

// IdentityHeader is the header the fronting proxy sets for authenticated
// requests. Requests arriving without it are treated as anonymous.
const IdentityHeader = "X-Authenticated-Email"

// IdentityMiddleware extracts the caller identity from request headers
type IdentityMiddleware struct {
	required bool
}

// NewIdentityMiddleware creates identity extraction middleware. When
// required is true, requests without an identity are rejected outright.
func NewIdentityMiddleware(required bool) *IdentityMiddleware {
	return &IdentityMiddleware{required: required}
}

// Handler wraps an HTTP handler with identity extraction
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.Header.Get(IdentityHeader)
		if email == "" {
			if m.required {
				unauthorizedResponse(w, "missing identity header")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), &Identity{Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the caller identity from a request, nil if anonymous
func GetIdentity(r *http.Request) *Identity {
	v := r.Context().Value(contextkeys.IdentityKey)
	if v == nil {
		return nil
	}
	identity, ok := v.(*Identity)
	if !ok {
		return nil
	}
	return identity
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
