package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gomcp/corekit/auth"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/sessions"
)

type staticUserInfo string

func (u staticUserInfo) UserID() string      { return string(u) }
func (u staticUserInfo) Claims(ref any) error { return nil }

type staticAuthenticator struct{ token string }

func (a staticAuthenticator) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	if tok != a.token {
		return nil, auth.ErrUnauthorized
	}
	return staticUserInfo("user-1"), nil
}

func newTestHTTPHandler(t *testing.T, srv mcpservice.ServerCapabilities) (*httptest.Server, string) {
	t.Helper()
	token := "test-token"
	h := NewHTTPHandler(srv, WithAuthenticator(staticAuthenticator{token: token}), WithServerURL("test"))
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, token
}

// sseResponse reads a single "event: ...\ndata: ...\n" frame from an SSE
// response body and decodes its data payload into v.
func sseResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read SSE response body: %v", err)
	}
	body := string(raw)
	idx := strings.Index(body, "data: ")
	if idx < 0 {
		t.Fatalf("no data field in SSE response: %q", body)
	}
	data := strings.TrimSpace(body[idx+len("data: "):])
	if err := json.Unmarshal([]byte(data), v); err != nil {
		t.Fatalf("decode SSE data %q: %v", data, err)
	}
}

func TestHTTPHandler_InitializeHandshake(t *testing.T) {
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "corekit-http-test", Version: "1.0.0"}),
		mcpservice.WithPreferredProtocolVersion(mcp.LatestProtocolVersion),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()),
	)
	ts, token := newTestHTTPHandler(t, srv)

	body, err := json.Marshal(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID("init-1"),
		Params: mustJSON(t, mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
		}),
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	sessID := resp.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		t.Fatal("expected Mcp-Session-Id response header")
	}

	var rpcResp jsonrpc.Response
	sseResponse(t, resp, &rpcResp)
	if rpcResp.Error != nil {
		t.Fatalf("initialize failed: %+v", rpcResp.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(rpcResp.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ServerInfo.Name != "corekit-http-test" {
		t.Fatalf("server info mismatch: %+v", initRes.ServerInfo)
	}
}

func TestHTTPHandler_RejectsMissingBearerToken(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	ts, _ := newTestHTTPHandler(t, srv)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get(wwwAuthenticateHeader) == "" {
		t.Fatal("expected WWW-Authenticate challenge header")
	}
}

func TestHTTPHandler_RejectsUnacceptableMediaType(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	ts, token := newTestHTTPHandler(t, srv)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("expected 406, got %d", resp.StatusCode)
	}
}

func TestHTTPHandler_ToolsCallRoundTrip(t *testing.T) {
	tool := mcpservice.NewTool[struct {
		Message string `json:"message"`
	}]("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct {
		Message string `json:"message"`
	}]) error {
		w.AppendText(r.Args().Message)
		return nil
	})

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "corekit-http-test", Version: "1.0.0"}),
		mcpservice.WithPreferredProtocolVersion(mcp.LatestProtocolVersion),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(tool)),
	)
	ts, token := newTestHTTPHandler(t, srv)

	// Initialize first to obtain a session id.
	initBody, _ := json.Marshal(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID("init-1"),
		Params: mustJSON(t, mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
		}),
	})
	initReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(string(initBody)))
	initReq.Header.Set("Content-Type", "application/json")
	initReq.Header.Set("Accept", "text/event-stream")
	initReq.Header.Set("Authorization", "Bearer "+token)
	initResp, err := http.DefaultClient.Do(initReq)
	if err != nil {
		t.Fatalf("do initialize: %v", err)
	}
	sessID := initResp.Header.Get(mcpSessionIDHeader)
	var initRPCResp jsonrpc.Response
	sseResponse(t, initResp, &initRPCResp)
	if initRPCResp.Error != nil {
		t.Fatalf("initialize failed: %+v", initRPCResp.Error)
	}

	notifyBody, _ := json.Marshal(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializedNotificationMethod),
	})
	notifyReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(string(notifyBody)))
	notifyReq.Header.Set("Content-Type", "application/json")
	notifyReq.Header.Set("Accept", "text/event-stream")
	notifyReq.Header.Set("Authorization", "Bearer "+token)
	notifyReq.Header.Set(mcpSessionIDHeader, sessID)
	notifyResp, err := http.DefaultClient.Do(notifyReq)
	if err != nil {
		t.Fatalf("do initialized notification: %v", err)
	}
	if notifyResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for notification, got %d", notifyResp.StatusCode)
	}
	notifyResp.Body.Close()

	callBody, _ := json.Marshal(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/call",
		ID:             jsonrpc.NewRequestID("call-1"),
		Params:         mustJSON(t, map[string]any{"name": "echo", "arguments": map[string]any{"message": "hello"}}),
	})
	callReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(string(callBody)))
	callReq.Header.Set("Content-Type", "application/json")
	callReq.Header.Set("Accept", "text/event-stream")
	callReq.Header.Set("Authorization", "Bearer "+token)
	callReq.Header.Set(mcpSessionIDHeader, sessID)
	callResp, err := http.DefaultClient.Do(callReq)
	if err != nil {
		t.Fatalf("do tools/call: %v", err)
	}
	var callRPCResp jsonrpc.Response
	sseResponse(t, callResp, &callRPCResp)
	if callRPCResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", callRPCResp.Error)
	}
	var callRes mcp.CallToolResult
	if err := json.Unmarshal(callRPCResp.Result, &callRes); err != nil {
		t.Fatalf("decode tools/call result: %v", err)
	}
	if len(callRes.Content) != 1 || callRes.Content[0].Text != "hello" {
		t.Fatalf("unexpected tool content: %+v", callRes.Content)
	}
}

func TestHTTPHandler_UnknownSessionRejected(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	ts, token := newTestHTTPHandler(t, srv)

	listBody, _ := json.Marshal(&jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/list",
		ID:             jsonrpc.NewRequestID("list-1"),
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(string(listBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(mcpSessionIDHeader, "does-not-exist")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
