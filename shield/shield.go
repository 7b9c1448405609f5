// Package shield provides the HTTP middleware stack for the tutor API:
// security headers, request-body limits, request IDs with per-request
// loggers, and per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack() {
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

// DefaultAPIStack returns the standard middleware stack for the tutor API.
// Ordered: SecurityHeaders → MaxJSONBody(1MiB) → RequestID → RateLimiter.
// Health checks bypass rate limiting.
func DefaultAPIStack() []func(http.Handler) http.Handler {
	rl := NewRateLimiter(DefaultLimit(), "/health")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(1 << 20),
		RequestID,
		rl.Middleware,
	}
}
