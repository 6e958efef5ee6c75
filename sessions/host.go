package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a host has no metadata for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by CreateSession when the id is already taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionRevoked is returned when an operation targets a revoked session.
	ErrSessionRevoked = errors.New("session revoked")
)

// MutateFunc mutates a copy of the stored metadata in place. Returning an
// error aborts the mutation without persisting changes.
type MutateFunc func(meta *SessionMetadata) error

// Host is the durability and coordination contract that transports and the
// session manager depend on. It combines metadata CRUD, an ordered
// client-visible message log, and a lightweight internal event bus used for
// cross-instance coordination (server-initiated capability calls, roots
// change notifications, and the like).
//
// Implementations MUST be safe for concurrent use. memoryhost provides an
// in-process reference implementation; redishost backs a horizontally scaled
// deployment.
type Host interface {
	// CreateSession persists new metadata. Returns ErrSessionExists if the id
	// is already present.
	CreateSession(ctx context.Context, meta SessionMetadata) error
	// GetSession returns the current metadata for a session, or
	// ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (SessionMetadata, error)
	// MutateSession loads the current metadata, applies fn, and persists the
	// result atomically with respect to other MutateSession calls for the
	// same session id.
	MutateSession(ctx context.Context, sessionID string, fn MutateFunc) (SessionMetadata, error)
	// TouchSession refreshes LastAccess to now, sliding the TTL window.
	TouchSession(ctx context.Context, sessionID string) error
	// DeleteSession marks the session revoked and releases its resources.
	// Implementations MAY retain a revocation tombstone for TTL so that a
	// racing request against a just-deleted session is still rejected.
	DeleteSession(ctx context.Context, sessionID string) error

	// PublishSession appends data to the session's ordered, client-visible
	// message log and returns the generated event id.
	PublishSession(ctx context.Context, sessionID string, data []byte) (eventID string, err error)
	// SubscribeSession delivers messages in order starting after lastEventID
	// (or from the next message if empty) until ctx is done, the host is
	// closed, or handler returns an error.
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunction) error
	// CleanupSession releases the ordered message log and any subscriptions
	// for a session. It does not affect metadata.
	CleanupSession(ctx context.Context, sessionID string) error

	// PublishEvent broadcasts payload to subscribers of (sessionID, topic).
	// Delivery is best-effort and unordered across instances.
	PublishEvent(ctx context.Context, sessionID, topic string, payload []byte) error
	// SubscribeEvents registers handler for (sessionID, topic) events until
	// the returned unsubscribe func is called or ctx ends.
	SubscribeEvents(ctx context.Context, sessionID, topic string, handler EventHandlerFunction) (unsubscribe func(), err error)
}
