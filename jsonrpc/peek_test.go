package jsonrpc

import "testing"

func TestPeekMethod(t *testing.T) {
	method, ok := PeekMethod([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`))
	if !ok || method != "notifications/progress" {
		t.Fatalf("PeekMethod = %q, %v", method, ok)
	}

	if _, ok := PeekMethod([]byte(`{"jsonrpc":"2.0","result":{}}`)); ok {
		t.Fatalf("expected ok=false for a response with no method field")
	}

	if _, ok := PeekMethod([]byte(`not json`)); ok {
		t.Fatalf("expected ok=false for malformed input")
	}
}

func TestFastDecodeNotification(t *testing.T) {
	req, ok := FastDecodeNotification([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":0.5}}`))
	if !ok {
		t.Fatalf("expected FastDecodeNotification to succeed on a well-formed notification")
	}
	if req.Method != "notifications/progress" {
		t.Fatalf("Method = %q", req.Method)
	}
	if req.ID != nil {
		t.Fatalf("expected a nil ID for a notification, got %v", req.ID)
	}
	if string(req.Params) != `{"progress":0.5}` {
		t.Fatalf("Params = %s", req.Params)
	}
}

func TestFastDecodeNotification_RejectsRequestsWithAnID(t *testing.T) {
	if _, ok := FastDecodeNotification([]byte(`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{}}`)); ok {
		t.Fatalf("expected fast-path to defer to the slow path when an id is present")
	}
}

func TestFastDecodeNotification_RejectsResponses(t *testing.T) {
	if _, ok := FastDecodeNotification([]byte(`{"jsonrpc":"2.0","result":{},"id":1}`)); ok {
		t.Fatalf("expected fast-path to defer to the slow path for responses")
	}
}

func TestFastDecodeNotification_RejectsWrongVersion(t *testing.T) {
	if _, ok := FastDecodeNotification([]byte(`{"jsonrpc":"1.0","method":"notifications/progress"}`)); ok {
		t.Fatalf("expected fast-path to reject a non-2.0 jsonrpc version")
	}
}

func TestFastDecodeNotification_NoParams(t *testing.T) {
	req, ok := FastDecodeNotification([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if !ok {
		t.Fatalf("expected FastDecodeNotification to succeed with no params field")
	}
	if req.Params != nil {
		t.Fatalf("expected nil Params, got %s", req.Params)
	}
}
