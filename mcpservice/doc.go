// Package mcpservice provides building blocks for implementing MCP server
// capabilities in a composable way. It exposes capability interfaces consumed by
// the Streaming HTTP handler, plus helpers for static resources, static tools,
// and change notifications.
//
// Quick start (static):
//
//	notifier := &mcpservice.ChangeNotifier{}
//	staticRes := mcpservice.NewResourcesContainer(
//	    []mcp.Resource{{URI: "res://hello.txt", Name: "hello.txt"}},
//	    nil,
//	    map[string][]mcp.ResourceContents{
//	        "res://hello.txt": {{URI: "res://hello.txt", Text: "hello"}},
//	    },
//	)
//	type EchoArgs struct { Message string `json:"message"` }
//	staticTools := mcpservice.NewToolsContainer(
//	    mcpservice.TypedTool[EchoArgs](
//	        mcp.Tool{
//	            Name:        "echo",
//	            Description: "Echo a message back to the caller",
//	            InputSchema: mcp.ToolInputSchema{
//	                Type: "object",
//	                Properties: map[string]mcp.SchemaProperty{
//	                    "message": {Type: "string"},
//	                },
//	                Required: []string{"message"},
//	            },
//	        },
//	        func(ctx context.Context, s sessions.Session, a EchoArgs) (*mcp.CallToolResult, error) {
//	            return mcpservice.TextResult("you said: " + a.Message), nil
//	        },
//	    ),
//	)
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithResourcesCapability(staticRes),
//	    mcpservice.WithToolsCapability(staticTools),
//	)
//
// Dynamic per-session capabilities:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithResourcesProvider(func(ctx context.Context, s sessions.Session) (mcpservice.ResourcesCapability, bool, error) {
//	        if s.UserID() == "guest" { return nil, false, nil }
//	        return mcpservice.NewDynamicResources(
//	            mcpservice.WithResourcesListFunc(func(ctx context.Context, _ sessions.Session, c *string) (mcpservice.Page[mcp.Resource], error) {
//	                return mcpservice.NewPage([]mcp.Resource{{URI: "res://user/"+s.UserID()+"/profile"}}), nil
//	            }),
//	        ), true, nil
//	    }),
//	)
//
// See server.go and capability files for full API details.
package mcpservice
