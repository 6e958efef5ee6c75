package mcpservice

import (
	"context"
	"testing"

	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/schema"
	"github.com/gomcp/corekit/sessions"
)

type greetArgs struct {
	Name string `json:"name"`
}

func TestToolsContainer_Call_ValidatesAgainstCompiledSchema(t *testing.T) {
	called := false
	tool := NewTool[greetArgs]("greet", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[greetArgs]) error {
		called = true
		w.AppendText("hi " + r.Args().Name)
		return nil
	})
	if tool.Schema == nil {
		t.Fatal("expected compiled schema on StaticTool")
	}

	c := NewToolsContainer(tool)

	// Missing the required "name" property should fail validation before the
	// handler ever runs.
	_, err := c.Call(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected a validation error for missing required field")
	}
	verr, ok := err.(*schema.ValidationErrors)
	if !ok {
		t.Fatalf("expected *schema.ValidationErrors, got %T: %v", err, err)
	}
	if len(verr.Errors) == 0 {
		t.Fatal("expected at least one ValidationError")
	}
	if called {
		t.Fatal("handler must not run when arguments fail validation")
	}

	// Valid arguments reach the handler.
	_, err = c.Call(context.Background(), nopSession{}, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: []byte(`{"name":"Ada"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error for valid arguments: %v", err)
	}
	if !called {
		t.Fatal("expected handler to run for valid arguments")
	}
}
