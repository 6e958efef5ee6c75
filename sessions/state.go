package sessions

// State is a session's position in the MCP lifecycle. A session is created
// in StateInitializing (the initialize request that creates it has already
// been answered; the client has not yet confirmed notifications/initialized)
// and must reach StateReady before any method other than initialize or ping
// is processed.
type State string

const (
	// StateCreated is the nominal pre-handshake state. In practice a Session
	// object is only constructed once its initialize request has been
	// answered, so sessions are born in StateInitializing; StateCreated
	// exists for completeness and for hosts that model the gap explicitly.
	StateCreated State = "created"
	// StateInitializing is the default state of a newly created session,
	// awaiting the client's notifications/initialized confirmation.
	StateInitializing State = "initializing"
	// StateReady is the only state in which the full method surface is
	// dispatched.
	StateReady State = "ready"
	// StateShuttingDown rejects new inbound requests while in-flight work
	// drains.
	StateShuttingDown State = "shutting_down"
	// StateTerminated is the terminal state; the session's resources have
	// been released.
	StateTerminated State = "terminated"
)
