package sessions

import "context"

// SessionData is an optional extension for per-session key/value storage,
// scoped to the lifetime of the session object (not replicated across
// instances). Tool and prompt handlers use it to stash small amounts of
// request-scoped state, e.g. a cursor or partial result, between calls.
// Callers should use a type assertion: if ds, ok := sess.(SessionData); ok { ... }.
type SessionData interface {
	PutData(ctx context.Context, key string, value []byte) error
	GetData(ctx context.Context, key string) (value []byte, ok bool, err error)
	DeleteData(ctx context.Context, key string) error
}
