// Package middleware provides HTTP middleware for identity extraction,
// request IDs and rate limiting.
//
// # Middleware Components
//
// IdentityMiddleware: trusted header identity
//
//	identity := middleware.NewIdentityMiddleware(false)
//	router.Use(identity.Handler)
//	// Reads X-Authenticated-Email set by the fronting proxy and adds
//	// an Identity to the request context
//
// RequestIDMiddleware: per-request UUID
//
//	router.Use(middleware.RequestIDMiddleware)
//
// RateLimitMiddleware: Redis-backed fixed window limiting
//
//	limiter := middleware.NewRateLimitMiddleware(redisClient)
//	router.Use(limiter.Handler)
//
// # Rate Limiting
//
// Anonymous: 100 req/min keyed by client IP
// Identified: 5000 req/min keyed by email
//
// The limiter fails open on Redis errors so a cache outage never blocks
// permission checks.
//
// # Related Packages
//
//   - pkg/contextkeys: context key definitions
//   - pkg/authz: decision gateway consuming Identity
package middleware
