package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/sessions"
	"github.com/gomcp/corekit/sessions/memoryhost"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newTestEngine(t *testing.T, srv mcpservice.ServerCapabilities) *Engine {
	t.Helper()
	return NewEngine(memoryhost.New(), srv)
}

func initializedSession(t *testing.T, e *Engine) sessionHandle {
	t.Helper()
	ctx := context.Background()
	sess, _, err := e.InitializeSession(ctx, "user-1", &mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}, nil)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if err := e.MarkInitialized(ctx, sess); err != nil {
		t.Fatalf("MarkInitialized: %v", err)
	}
	return sessionHandle{sess}
}

// sessionHandle just gives tests a shorter name for the sessions.Session
// InitializeSession returns.
type sessionHandle struct {
	sessions.Session
}

func TestHandleRequest_RejectsBeforeInitializeExceptInitializeAndPing(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	e := newTestEngine(t, srv)
	ctx := context.Background()

	sess, _, err := e.InitializeSession(ctx, "user-1", &mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}, nil)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	// Session is Initializing, not yet Ready: notifications/initialized hasn't arrived.

	resp, err := e.HandleRequest(ctx, sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/list",
		ID:             jsonrpc.NewRequestID("list-1"),
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeServerNotInitialized {
		t.Fatalf("expected ErrorCodeServerNotInitialized, got %+v", resp.Error)
	}

	pingResp, err := e.HandleRequest(ctx, sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.PingMethod),
		ID:             jsonrpc.NewRequestID("ping-1"),
	})
	if err != nil {
		t.Fatalf("HandleRequest ping: %v", err)
	}
	if pingResp.Error != nil {
		t.Fatalf("expected ping to succeed pre-initialize, got %+v", pingResp.Error)
	}

	initResp, err := e.HandleRequest(ctx, sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID("init-2"),
		Params: mustJSON(t, mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
		}),
	})
	if err != nil {
		t.Fatalf("HandleRequest initialize: %v", err)
	}
	if initResp.Error != nil {
		t.Fatalf("expected re-initialize to succeed pre-ready, got %+v", initResp.Error)
	}
}

func TestFullHandshakeAndToolCall(t *testing.T) {
	tool := mcpservice.NewTool[struct {
		Message string `json:"message"`
	}]("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct {
		Message string `json:"message"`
	}]) error {
		return w.AppendText(r.Args().Message)
	})

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "corekit-engine-test", Version: "1.0.0"}),
		mcpservice.WithPreferredProtocolVersion(mcp.LatestProtocolVersion),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(tool)),
	)
	e := newTestEngine(t, srv)
	ctx := context.Background()

	sess, initRes, err := e.InitializeSession(ctx, "user-1", &mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "0.0.1"},
	}, nil)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if initRes.ServerInfo.Name != "corekit-engine-test" {
		t.Fatalf("unexpected server info: %+v", initRes.ServerInfo)
	}

	if err := e.HandleNotification(ctx, sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializedNotificationMethod),
	}); err != nil {
		t.Fatalf("HandleNotification initialized: %v", err)
	}

	callResp, err := e.HandleRequest(ctx, sess, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ToolsCallMethod),
		ID:             jsonrpc.NewRequestID("call-1"),
		Params:         mustJSON(t, map[string]any{"name": "echo", "arguments": map[string]any{"message": "hello"}}),
	})
	if err != nil {
		t.Fatalf("HandleRequest tools/call: %v", err)
	}
	if callResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", callResp.Error)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(callResp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("unexpected tool content: %+v", result.Content)
	}
}

func TestToolCall_CancelledNotificationAbortsInFlightCall(t *testing.T) {
	started := make(chan struct{})
	tool := mcpservice.NewTool[struct{}]("block", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[struct{}]) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(tool)))
	e := newTestEngine(t, srv)
	ctx := context.Background()

	sess := initializedSession(t, e)

	reqID := jsonrpc.NewRequestID("call-cancel-1")
	respCh := make(chan *jsonrpc.Response, 1)
	go func() {
		resp, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         string(mcp.ToolsCallMethod),
			ID:             reqID,
			Params:         mustJSON(t, map[string]any{"name": "block", "arguments": map[string]any{}}),
		})
		if err != nil {
			t.Errorf("HandleRequest tools/call: %v", err)
			return
		}
		respCh <- resp
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool to start")
	}

	if err := e.HandleNotification(ctx, sess.Session, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.CancelledNotificationMethod),
		Params:         mustJSON(t, mcp.CancelledNotification{RequestID: reqID, Reason: "client gave up"}),
	}); err != nil {
		t.Fatalf("HandleNotification cancelled: %v", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeRequestCancelled {
			t.Fatalf("expected ErrorCodeRequestCancelled, got %+v", resp.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled tool call to return")
	}
}

func TestBatchLikeSequentialRequestsCorrelateByID(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	e := newTestEngine(t, srv)
	ctx := context.Background()
	sess := initializedSession(t, e)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		resp, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         "tools/list",
			ID:             jsonrpc.NewRequestID(id),
		})
		if err != nil {
			t.Fatalf("HandleRequest(%s): %v", id, err)
		}
		if resp.ID.String() != id {
			t.Fatalf("response ID mismatch: got %q, want %q", resp.ID.String(), id)
		}
		if resp.Error != nil {
			t.Fatalf("unexpected error for %q: %+v", id, resp.Error)
		}
	}
}

func TestHandleRequest_UnknownMethod(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	e := newTestEngine(t, srv)
	ctx := context.Background()
	sess := initializedSession(t, e)

	resp, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "nonexistent/method",
		ID:             jsonrpc.NewRequestID("unknown-1"),
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("expected ErrorCodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestResourcesSubscribeUnsubscribe(t *testing.T) {
	resources := mcpservice.NewResourcesContainer(
		[]mcp.Resource{{URI: "fixture://a", Name: "a"}},
		nil,
		map[string][]mcp.ResourceContents{"fixture://a": {{URI: "fixture://a", Text: "hello"}}},
	)

	srv := mcpservice.NewServer(
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()),
		mcpservice.WithResourcesCapability(resources),
	)
	e := newTestEngine(t, srv)
	ctx := context.Background()
	sess := initializedSession(t, e)

	subResp, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ResourcesSubscribeMethod),
		ID:             jsonrpc.NewRequestID("sub-1"),
		Params:         mustJSON(t, mcp.SubscribeRequest{URI: "fixture://a"}),
	})
	if err != nil {
		t.Fatalf("HandleRequest subscribe: %v", err)
	}
	if subResp.Error != nil {
		t.Fatalf("subscribe failed: %+v", subResp.Error)
	}

	// Re-subscribing to the same URI is idempotent, not an error.
	subResp2, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ResourcesSubscribeMethod),
		ID:             jsonrpc.NewRequestID("sub-2"),
		Params:         mustJSON(t, mcp.SubscribeRequest{URI: "fixture://a"}),
	})
	if err != nil || subResp2.Error != nil {
		t.Fatalf("expected idempotent re-subscribe to succeed: err=%v resp=%+v", err, subResp2.Error)
	}

	unsubResp, err := e.HandleRequest(ctx, sess.Session, &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.ResourcesUnsubscribeMethod),
		ID:             jsonrpc.NewRequestID("unsub-1"),
		Params:         mustJSON(t, mcp.UnsubscribeRequest{URI: "fixture://a"}),
	})
	if err != nil {
		t.Fatalf("HandleRequest unsubscribe: %v", err)
	}
	if unsubResp.Error != nil {
		t.Fatalf("unsubscribe failed: %+v", unsubResp.Error)
	}

	// Tearing down the session must not error even though there is nothing
	// left tracked for it.
	if err := e.DeleteSession(ctx, sess.Session); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
}
