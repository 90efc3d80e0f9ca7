// Package shield provides the HTTP middleware in front of the tripsync API:
// security headers, body limits, request tracing, HEAD handling and
// per-client rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	lim := shield.NewLimiter()
//	r.With(shield.RateLimit(lim, shield.GeocodeRule, trust, nil)).Get("/api/geocode", h)
package shield

import (
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody int64 = 256 * 1024

// Endpoint budgets for the proxied Maps endpoints.
var (
	GeocodeRule = Rule{Name: "geocode", Limit: 25, Window: 60 * time.Second}
	RouteRule   = Rule{Name: "route", Limit: 40, Window: 60 * time.Second}
)

// DefaultStack returns the standard middleware stack.
// Order: HeadToGet → SecurityHeaders → MaxBody → TraceID.
// Rate limiting is per-route and applied by the caller.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		TraceID,
	}
}
