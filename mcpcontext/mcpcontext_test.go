package mcpcontext

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsSessionGroup(t *testing.T) {
	var buf bytes.Buffer
	h := Handler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(h)

	ctx := WithSessionData(context.Background(), &SessionData{
		SessionID:       "sess-1",
		UserID:          "user-1",
		ProtocolVersion: "2025-06-18",
		Revoked:         false,
	})

	logger.InfoContext(ctx, "handled request")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	sess, ok := decoded["sess"].(map[string]any)
	if !ok {
		t.Fatalf("expected sess group in log output, got %#v", decoded)
	}
	if sess["id"] != "sess-1" {
		t.Fatalf("sess.id = %v, want sess-1", sess["id"])
	}
	if sess["revoked"] != false {
		t.Fatalf("sess.revoked = %v, want false", sess["revoked"])
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	h := Handler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(h)

	logger.InfoContext(context.Background(), "no ambient data")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := decoded["sess"]; ok {
		t.Fatalf("did not expect sess group without session data in context")
	}
}

func TestHandlerAddsToolCallGroup(t *testing.T) {
	var buf bytes.Buffer
	h := Handler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(h)

	ctx := WithToolCallData(context.Background(), &ToolCallData{ToolName: "search"})
	logger.InfoContext(ctx, "calling tool")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	tool, ok := decoded["tool"].(map[string]any)
	if !ok {
		t.Fatalf("expected tool group in log output, got %#v", decoded)
	}
	if tool["name"] != "search" {
		t.Fatalf("tool.name = %v, want search", tool["name"])
	}
}
