// Package shield provides the HTTP middleware stack for the lexkeeper API:
// security headers, request body limits, request tracing, and per-IP rate
// limiting for the endpoints that fan out to the upstream source or the
// vector index.
//
// Usage:
//
//	rl := shield.NewRateLimiter(shield.DefaultRules(), "/health")
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(rl) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// APIStack returns the standard middleware stack for the lexkeeper API.
// Middleware is ordered: HeadToGet, SecurityHeaders, MaxJSONBody, TraceID,
// RateLimiter. A nil rl omits rate limiting.
func APIStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1 << 20),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
