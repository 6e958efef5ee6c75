package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/sessions"
)

// RateLimit builds a Middleware enforcing a per-session token-bucket limit
// of r events/sec with a burst of b, using golang.org/x/time/rate. Each
// session gets its own limiter, created lazily on first request and never
// evicted for the lifetime of the process — acceptable for the bounded,
// supervised session counts this module targets; a deployment with
// unbounded session churn should wrap this with its own eviction.
func RateLimit(r rate.Limit, b int) Middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(sessionID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[sessionID]
		if !ok {
			l = rate.NewLimiter(r, b)
			limiters[sessionID] = l
		}
		return l
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
			if !limiterFor(sess.SessionID()).Allow() {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, "rate limit exceeded", nil), nil
			}
			return next(ctx, sess, req)
		}
	}
}
