package mcpservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gomcp/corekit/mcp"
)

func TestWebFetchTool_ExtractsTextFromHTML(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><style>body{color:red}</style></head><body><h1>Title</h1><p>Hello <b>world</b></p></body></html>`))
	}))
	defer ts.Close()

	tool := NewWebFetchTool()
	c := NewToolsContainer(tool)

	res, err := c.Call(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{
		Name:      "web_fetch",
		Arguments: []byte(`{"url":"` + ts.URL + `"}`),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
	text := res.Content[0].Text
	if !strings.Contains(text, "Title") || !strings.Contains(text, "Hello") || !strings.Contains(text, "world") {
		t.Fatalf("unexpected extracted text: %q", text)
	}
	if strings.Contains(text, "color:red") {
		t.Fatalf("expected style contents to be stripped, got: %q", text)
	}
}

func TestWebFetchTool_MissingURL(t *testing.T) {
	tool := NewWebFetchTool()
	c := NewToolsContainer(tool)

	res, err := c.Call(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{
		Name:      "web_fetch",
		Arguments: []byte(`{"url":""}`),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for an empty url")
	}
}

func TestWebFetchTool_UpstreamErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	tool := NewWebFetchTool()
	c := NewToolsContainer(tool)

	res, err := c.Call(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{
		Name:      "web_fetch",
		Arguments: []byte(`{"url":"` + ts.URL + `"}`),
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for a non-200 upstream response")
	}
}
