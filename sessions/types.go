package sessions

import (
	"context"

	"github.com/gomcp/corekit/mcp"
)

// Session represents a negotiated MCP session and exposes optional
// per-session capabilities. Implementations MUST be safe for concurrent use.
type Session interface {
	SessionID() string
	UserID() string
	// ProtocolVersion is the negotiated MCP protocol version baked into the session.
	ProtocolVersion() string
	// State reports the session's current lifecycle position.
	State() State

	GetSamplingCapability() (cap SamplingCapability, ok bool)
	GetRootsCapability() (cap RootsCapability, ok bool)
	GetElicitationCapability() (cap ElicitationCapability, ok bool)

	// ConsumeMessages replays and then streams the session's ordered
	// client-facing message log starting after lastEventID ("" for new
	// subscribers that only want messages published from now on).
	ConsumeMessages(ctx context.Context, lastEventID string, handler MessageHandlerFunction) error
	// WriteMessage appends an encoded JSON-RPC message to the session's
	// ordered client-facing log.
	WriteMessage(ctx context.Context, msg []byte) error
}

// MessageHandlerFunction handles ordered messages for a session's client
// stream. If the handler returns an error, the subscription terminates with
// that error.
type MessageHandlerFunction func(ctx context.Context, msgID string, msg []byte) error

// EventHandlerFunction handles internal server-side coordination events
// published on a session's topic (used for cross-instance fanout via broker).
type EventHandlerFunction func(ctx context.Context, payload []byte) error

// ClientInfo identifies the client connecting to the server.
type ClientInfo struct {
	Name    string
	Version string
}

// SamplingCapability when present on a session, enables the sampling surface area.
type SamplingCapability interface {
	CreateMessage(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)
}

// RootsListChangedListener is invoked when the set of workspace roots changes.
type RootsListChangedListener func(ctx context.Context) error

// RootsCapability when present, exposes workspace roots and change notifications.
type RootsCapability interface {
	ListRoots(ctx context.Context) (*mcp.ListRootsResult, error)

	RegisterRootsListChangedListener(ctx context.Context, listener RootsListChangedListener) (supported bool, err error)
}

// ElicitationCapability exposes the raw elicitation request/response surface.
// Callers that want typed decoding build on top of this using a
// schema.Generator to derive RequestedSchema and decode Content themselves;
// see mcp.TypedElicitResult for the shape that decoding typically targets.
type ElicitationCapability interface {
	Elicit(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error)
}
