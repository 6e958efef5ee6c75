package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestMarshalFieldOrder(t *testing.T) {
	id := NewRequestID(int64(7))
	req := Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         "ping",
		ID:             id,
	}
	out, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	jsonrpcIdx := strings.Index(string(out), `"jsonrpc"`)
	idIdx := strings.Index(string(out), `"id"`)
	methodIdx := strings.Index(string(out), `"method"`)
	if !(jsonrpcIdx < idIdx && idIdx < methodIdx) {
		t.Fatalf("field order = %s, want jsonrpc, id, method", out)
	}
}

func TestResponseMarshalFieldOrder(t *testing.T) {
	id := NewRequestID(int64(7))
	resp := NewErrorResponse(id, ErrorCodeMethodNotFound, "Method not found", nil)
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	jsonrpcIdx := strings.Index(string(out), `"jsonrpc"`)
	idIdx := strings.Index(string(out), `"id"`)
	errorIdx := strings.Index(string(out), `"error"`)
	if !(jsonrpcIdx < idIdx && idIdx < errorIdx) {
		t.Fatalf("field order = %s, want jsonrpc, id, error", out)
	}
}

func TestResponseMarshalResultFieldOrder(t *testing.T) {
	id := NewRequestID(int64(1))
	resp, err := NewResultResponse(id, map[string]string{"ok": "true"})
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	jsonrpcIdx := strings.Index(string(out), `"jsonrpc"`)
	idIdx := strings.Index(string(out), `"id"`)
	resultIdx := strings.Index(string(out), `"result"`)
	if !(jsonrpcIdx < idIdx && idIdx < resultIdx) {
		t.Fatalf("field order = %s, want jsonrpc, id, result", out)
	}
}
