package middleware

import (
	"context"
	"testing"

	"golang.org/x/time/rate"

	"github.com/gomcp/corekit/auth"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/sessions"
)

type stubSession struct {
	id string
}

func (s stubSession) SessionID() string                                           { return s.id }
func (s stubSession) UserID() string                                              { return "u" }
func (s stubSession) ProtocolVersion() string                                     { return "2025-06-18" }
func (s stubSession) State() sessions.State                                       { return sessions.StateReady }
func (s stubSession) ConsumeMessages(ctx context.Context, lastEventID string, fn sessions.MessageHandlerFunction) error {
	return nil
}
func (s stubSession) WriteMessage(ctx context.Context, msg []byte) error             { return nil }
func (s stubSession) GetSamplingCapability() (sessions.SamplingCapability, bool)     { return nil, false }
func (s stubSession) GetRootsCapability() (sessions.RootsCapability, bool)           { return nil, false }
func (s stubSession) GetElicitationCapability() (sessions.ElicitationCapability, bool) {
	return nil, false
}

var _ sessions.Session = stubSession{}

func okHandler(calls *int) Handler {
	return func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		*calls++
		resp, err := jsonrpc.NewResultResponse(req.ID, map[string]any{"ok": true})
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func TestChain_RunsOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
				order = append(order, name)
				return next(ctx, sess, req)
			}
		}
	}
	calls := 0
	h := Chain(mark("outer"), mark("inner"))(okHandler(&calls))

	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "ping", ID: jsonrpc.NewRequestID("1")}
	if _, err := h(context.Background(), stubSession{id: "s1"}, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected middleware order: %v", order)
	}
}

type stubUserInfo struct{ id string }

func (u stubUserInfo) UserID() string        { return u.id }
func (u stubUserInfo) Claims(ref any) error  { return nil }

type stubAuthenticator struct {
	info auth.UserInfo
	err  error
}

func (a stubAuthenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.info, nil
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	calls := 0
	h := Auth(stubAuthenticator{}, nil)(okHandler(&calls))

	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID("1")}
	resp, err := h(context.Background(), stubSession{id: "s1"}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
	if calls != 0 {
		t.Fatal("handler must not run when token is missing")
	}
}

func TestAuth_RejectsInvalidToken(t *testing.T) {
	calls := 0
	h := Auth(stubAuthenticator{err: auth.ErrUnauthorized}, nil)(okHandler(&calls))

	ctx := WithBearerToken(context.Background(), "bad-token")
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID("1")}
	resp, err := h(ctx, stubSession{id: "s1"}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
	if calls != 0 {
		t.Fatal("handler must not run for an invalid token")
	}
}

func TestAuth_AllowsValidToken(t *testing.T) {
	calls := 0
	var seenUser auth.UserInfo
	next := func(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		calls++
		seenUser, _ = UserInfoFromContext(ctx)
		return jsonrpc.NewResultResponse(req.ID, map[string]any{"ok": true})
	}
	h := Auth(stubAuthenticator{info: stubUserInfo{id: "alice"}}, nil)(next)

	ctx := WithBearerToken(context.Background(), "good-token")
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID("1")}
	if _, err := h(ctx, stubSession{id: "s1"}, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatal("expected handler to run once")
	}
	if seenUser == nil || seenUser.UserID() != "alice" {
		t.Fatalf("expected UserInfo in context, got %+v", seenUser)
	}
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	calls := 0
	h := RateLimit(rate.Limit(0), 1)(okHandler(&calls))

	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID("1")}
	sess := stubSession{id: "s1"}

	resp, err := h(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("expected first call under burst to succeed, got %+v", resp.Error)
	}

	resp, err = h(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeServerError {
		t.Fatalf("expected rate limit error on second call, got %+v", resp.Error)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run exactly once, got %d", calls)
	}
}

func TestRateLimit_SeparatesSessions(t *testing.T) {
	calls := 0
	h := RateLimit(rate.Limit(0), 1)(okHandler(&calls))

	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID("1")}

	if _, err := h(context.Background(), stubSession{id: "a"}, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := h(context.Background(), stubSession{id: "b"}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("expected a different session to have its own limiter, got %+v", resp.Error)
	}
	if calls != 2 {
		t.Fatalf("expected both sessions' calls to reach the handler, got %d", calls)
	}
}
