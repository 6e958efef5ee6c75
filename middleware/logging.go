package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcpcontext"
	"github.com/gomcp/corekit/sessions"
)

// Logging builds a Middleware that records method, duration, and outcome
// for every request, attaching the same mcpcontext.RPCMessage grouping the
// engine itself uses so a request's middleware-layer log lines and its
// engine-layer log lines correlate under the same "rpc" group.
func Logging(log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
			id := ""
			if req.ID != nil {
				id = req.ID.String()
			}
			ctx = mcpcontext.WithRPCMessage(ctx, &mcpcontext.RPCMessage{Method: req.Method, ID: id, Type: "request"})

			start := time.Now()
			resp, err := next(ctx, sess, req)
			dur := time.Since(start)

			if err != nil {
				log.ErrorContext(ctx, "middleware.logging.err", slog.String("method", req.Method), slog.Duration("dur", dur), slog.String("err", err.Error()))
				return resp, err
			}
			if resp != nil && resp.Error != nil {
				log.InfoContext(ctx, "middleware.logging.error_response", slog.String("method", req.Method), slog.Duration("dur", dur), slog.Int("code", int(resp.Error.Code)))
				return resp, nil
			}
			log.InfoContext(ctx, "middleware.logging.ok", slog.String("method", req.Method), slog.Duration("dur", dur))
			return resp, nil
		}
	}
}
