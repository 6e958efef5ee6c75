package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gomcp/corekit/auth"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/sessions"
)

type bearerTokenKey struct{}

// WithBearerToken attaches the bearer token a transport extracted from the
// wire (an Authorization header, for instance) so the Auth middleware can
// validate it without the middleware having any transport-specific
// knowledge of where credentials live.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext returns the token attached by WithBearerToken, if any.
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(bearerTokenKey{}).(string)
	return tok, ok && tok != ""
}

type userInfoKey struct{}

// WithUserInfo attaches resolved auth.UserInfo to ctx. Auth does this after
// a successful CheckAuthentication call; handlers downstream can recover it
// with UserInfoFromContext.
func WithUserInfo(ctx context.Context, info auth.UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey{}, info)
}

// UserInfoFromContext returns the auth.UserInfo attached by Auth, if any.
func UserInfoFromContext(ctx context.Context) (auth.UserInfo, bool) {
	info, ok := ctx.Value(userInfoKey{}).(auth.UserInfo)
	return info, ok
}

// Auth builds a Middleware that validates a bearer token (via
// authn.CheckAuthentication) before letting a request reach next. A missing
// token is rejected with the same Unauthorized error as an invalid one, so a
// transport that never calls
// WithBearerToken (stdio, where the OS user is the identity) should not wire
// this middleware at all; Auth exists for transports that do carry bearer
// credentials and need every request checked uniformly.
func Auth(authn auth.Authenticator, log *slog.Logger) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
			tok, ok := BearerTokenFromContext(ctx)
			if !ok {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnauthorized, "missing bearer token", nil), nil
			}

			info, err := authn.CheckAuthentication(ctx, tok)
			if err != nil {
				if errors.Is(err, auth.ErrInsufficientScope) {
					log.WarnContext(ctx, "middleware.auth.insufficient_scope", slog.String("method", req.Method))
					return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnauthorized, "insufficient scope", nil), nil
				}
				log.InfoContext(ctx, "middleware.auth.reject", slog.String("method", req.Method), slog.String("err", err.Error()))
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnauthorized, "unauthorized", nil), nil
			}

			ctx = WithUserInfo(ctx, info)
			return next(ctx, sess, req)
		}
	}
}
