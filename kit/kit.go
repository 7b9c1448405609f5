// Package kit is the transport-agnostic endpoint layer: a service method is
// exposed as an Endpoint, middleware wraps it, and a transport adapter (HTTP
// handler, MCP tool) decodes its own wire format before invoking it.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a single service operation, decoupled from any transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs every invocation with its duration
// and outcome. name appears as the "endpoint" attribute.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("kit: endpoint failed",
					"endpoint", name, "duration", time.Since(start), "error", err)
				return resp, err
			}
			logger.Debug("kit: endpoint ok", "endpoint", name, "duration", time.Since(start))
			return resp, nil
		}
	}
}
