package jsonrpc

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    Frame
		wantErr bool
	}{
		{"single", `{"jsonrpc":"2.0","method":"ping","id":1}`, FrameSingle, false},
		{"batch", `[{"jsonrpc":"2.0","method":"ping","id":1}]`, FrameBatch, false},
		{"leading whitespace", "  \n\t[{}]", FrameBatch, false},
		{"empty", "", FrameSingle, true},
		{"garbage", "not json", FrameSingle, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got frame %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeBatch(t *testing.T) {
	data := []byte(`[
		{"jsonrpc":"2.0","method":"a","id":1},
		{"jsonrpc":"2.0","method":"b"}
	]`)
	b, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(b) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(b))
	}
	if b[0].Type() != "request" {
		t.Fatalf("expected first message to be a request, got %s", b[0].Type())
	}
	if b[1].Type() != "notification" {
		t.Fatalf("expected second message to be a notification, got %s", b[1].Type())
	}
}

func TestDecodeBatch_Empty(t *testing.T) {
	if _, err := DecodeBatch([]byte(`[]`)); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestMarshalResponses(t *testing.T) {
	id := NewRequestID(int64(1))
	resp, err := NewResultResponse(id, map[string]string{"ok": "true"})
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	out, err := MarshalResponses([]*Response{resp})
	if err != nil {
		t.Fatalf("MarshalResponses: %v", err)
	}
	if len(out) == 0 || out[0] != '[' {
		t.Fatalf("expected JSON array output, got %s", out)
	}
}
