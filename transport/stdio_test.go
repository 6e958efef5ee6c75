package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/sessions"
)

// stdioHarness wires a Server over an io.Pipe pair and collects its output
// lines so tests can drive it like a real peer would over stdin/stdout.
type stdioHarness struct {
	t       *testing.T
	cancel  context.CancelFunc
	stdinW  io.Writer
	outMu   sync.Mutex
	lines   []string
}

func newStdioHarness(t *testing.T, srv mcpservice.ServerCapabilities, opts ...Option) *stdioHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	s := NewServer(srv, append([]Option{WithIO(inR, outW), WithPingInterval(time.Hour)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &stdioHarness{t: t, cancel: cancel, stdinW: inW}

	go func() { _ = s.Serve(ctx) }()

	sc := bufio.NewScanner(outR)
	go func() {
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			h.outMu.Lock()
			h.lines = append(h.lines, line)
			h.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		time.Sleep(10 * time.Millisecond)
	})
	return h
}

func (h *stdioHarness) send(req *jsonrpc.Request) {
	h.t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		h.t.Fatalf("marshal request: %v", err)
	}
	if _, err := h.stdinW.Write(append(b, '\n')); err != nil {
		h.t.Fatalf("write request: %v", err)
	}
}

func (h *stdioHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.outMu.Lock()
		if len(h.lines) > 0 {
			line := h.lines[0]
			h.lines = h.lines[1:]
			h.outMu.Unlock()
			return line, nil
		}
		h.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (h *stdioHarness) expectResponse(timeout time.Duration) *jsonrpc.Response {
	h.t.Helper()
	line, err := h.nextLine(timeout)
	if err != nil {
		h.t.Fatalf("expect response: %v", err)
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
	if msg.Type() != "response" {
		h.t.Fatalf("expected response, got %s: %s", msg.Type(), line)
	}
	return msg.AsResponse()
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func (h *stdioHarness) initialize(t *testing.T) *mcp.InitializeResult {
	t.Helper()
	req := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID("init-1"),
		Params: mustJSON(t, mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
			Capabilities:    mcp.ClientCapabilities{},
		}),
	}
	h.send(req)

	resp := h.expectResponse(2 * time.Second)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}

	notif := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializedNotificationMethod),
	}
	h.send(notif)
	return &res
}

func TestServer_InitializeHandshake(t *testing.T) {
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "corekit-test", Version: "1.0.0"}),
		mcpservice.WithPreferredProtocolVersion(mcp.LatestProtocolVersion),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()),
	)
	h := newStdioHarness(t, srv)

	res := h.initialize(t)
	if res.ServerInfo.Name != "corekit-test" {
		t.Fatalf("server info mismatch: %+v", res.ServerInfo)
	}
	if res.Capabilities.Tools == nil {
		t.Fatal("expected tools capability to be advertised")
	}
}

type echoArgs struct {
	Message string `json:"message"`
}

func TestServer_ToolsListAndCallRoundTrip(t *testing.T) {
	tool := mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		w.AppendText(r.Args().Message)
		return nil
	})

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "corekit-test", Version: "1.0.0"}),
		mcpservice.WithPreferredProtocolVersion(mcp.LatestProtocolVersion),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer(tool)),
	)
	h := newStdioHarness(t, srv)
	h.initialize(t)

	listReq := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/list",
		ID:             jsonrpc.NewRequestID("list-1"),
	}
	h.send(listReq)
	listResp := h.expectResponse(2 * time.Second)
	if listResp.Error != nil {
		t.Fatalf("tools/list failed: %+v", listResp.Error)
	}
	var listRes struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(listResp.Result, &listRes); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(listRes.Tools) != 1 || listRes.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools/list result: %+v", listRes.Tools)
	}

	callReq := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/call",
		ID:             jsonrpc.NewRequestID("call-1"),
		Params:         mustJSON(t, map[string]any{"name": "echo", "arguments": map[string]any{"message": "hello"}}),
	}
	h.send(callReq)
	callResp := h.expectResponse(2 * time.Second)
	if callResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", callResp.Error)
	}
	var callRes mcp.CallToolResult
	if err := json.Unmarshal(callResp.Result, &callRes); err != nil {
		t.Fatalf("decode tools/call result: %v", err)
	}
	if callRes.IsError {
		t.Fatalf("unexpected tool error result: %+v", callRes)
	}
	if len(callRes.Content) != 1 || callRes.Content[0].Text != "hello" {
		t.Fatalf("unexpected tool content: %+v", callRes.Content)
	}
}

func TestServer_RejectsRequestsBeforeInitialize(t *testing.T) {
	srv := mcpservice.NewServer(
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()),
	)
	h := newStdioHarness(t, srv)

	listReq := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         "tools/list",
		ID:             jsonrpc.NewRequestID("premature-1"),
	}
	h.send(listReq)

	// handshake() never completes because the first frame wasn't initialize,
	// so Serve returns without ever entering the steady-state loop; nothing
	// further is expected on the wire.
	if _, err := h.nextLine(200 * time.Millisecond); err == nil {
		t.Fatal("expected no response to be written when handshake fails")
	}
}
