package sessions

import "time"

// CapabilitySet captures the immutable capability surface negotiated at
// session creation. Booleans keep it cheap to serialize, compare, and extend.
type CapabilitySet struct {
	Roots            bool `json:"roots,omitempty"`
	RootsListChanged bool `json:"roots_list_changed,omitempty"`
	Sampling         bool `json:"sampling,omitempty"`
	Elicitation      bool `json:"elicitation,omitempty"`
}

// MetadataClientInfo records optional client identity details supplied at
// initialization for observability and logging. All fields are optional.
type MetadataClientInfo struct {
	Name       string `json:"name,omitempty"`
	Version    string `json:"version,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
}

// SessionMetadata is the authoritative persisted representation of an MCP
// session. Invalidation and lifetime are handled via the Revoked flag and TTL
// semantics enforced by the host.
//
// Fields marked immutable must not be changed after creation. Timestamps are
// wall-clock times in UTC. TTL is a sliding window: the host SHOULD expire a
// session if LastAccess + TTL < now. If MaxLifetime > 0, the host MUST also
// expire the session once CreatedAt + MaxLifetime < now regardless of
// activity.
type SessionMetadata struct {
	MetaVersion     int                `json:"meta_version"`               // starts at 1
	SessionID       string             `json:"session_id"`                 // immutable
	UserID          string             `json:"user_id"`                    // immutable
	Issuer          string             `json:"issuer,omitempty"`           // immutable (empty if not enforced)
	ProtocolVersion string             `json:"protocol_version,omitempty"` // immutable after creation handshake
	Client          MetadataClientInfo `json:"client,omitempty"`           // immutable
	Capabilities    CapabilitySet      `json:"capabilities,omitempty"`     // immutable

	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastAccess  time.Time     `json:"last_access"`
	TTL         time.Duration `json:"ttl"`
	MaxLifetime time.Duration `json:"max_lifetime,omitempty"`

	// State is the session's lifecycle position (see State). Persisted so
	// that a reconnecting transport, possibly against a different process,
	// observes the same Created/Initializing/Ready/ShuttingDown/Terminated
	// gate as the instance that created the session.
	State State `json:"state,omitempty"`

	Revoked bool `json:"revoked"`
}

// Expired reports whether the metadata's sliding TTL or max lifetime has
// elapsed as of now.
func (m SessionMetadata) Expired(now time.Time) bool {
	if m.TTL > 0 && now.After(m.LastAccess.Add(m.TTL)) {
		return true
	}
	if m.MaxLifetime > 0 && now.After(m.CreatedAt.Add(m.MaxLifetime)) {
		return true
	}
	return false
}
