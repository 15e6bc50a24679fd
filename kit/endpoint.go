// Package kit provides the endpoint abstraction shared by the HTTP and MCP
// transports: a service method is exposed once as an Endpoint and each
// transport adapts it to its own wire format.
package kit

import "context"

// Endpoint is the fundamental building block: a single RPC-style method.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour
// (logging, timing, recovery).
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares into one. The first middleware is outermost:
// Chain(a, b, c)(endpoint) runs a, then b, then c, then the endpoint.
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}
