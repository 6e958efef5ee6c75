// Package middleware provides a pre/post-hook chain around the request path
// an Engine exposes, so cross-cutting concerns (authentication, rate
// limiting, logging) can be composed around HandleRequest without the engine
// itself knowing about them. The chain shape is grounded on the teacher's
// layered handler style in streaminghttp/handler.go, where authentication
// and logging wrap the core dispatch rather than being inlined into it.
package middleware

import (
	"context"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/sessions"
)

// Handler processes a single JSON-RPC request for a session and produces a
// response. internal/engine.Engine.HandleRequest satisfies this signature,
// so a Chain can wrap it directly.
type Handler func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error)

// Middleware wraps a Handler to produce a new Handler that runs before
// and/or after it.
type Middleware func(next Handler) Handler

// Chain composes mws into a single Middleware. The first Middleware in mws
// is outermost: it sees the request first and the response last, matching
// the net/http convention this repo otherwise follows for ordered
// decorators. An empty Chain is the identity Middleware.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}
