// Package redishost implements sessions.Host using Redis primitives (Streams,
// Pub/Sub, and a Lua-guarded metadata key) to support horizontally scalable
// MCP deployments. It provides an ordered per-session message stream,
// internal (sessionID, topic) coordination channels, and metadata persistence
// including the TTL / max lifetime fields. The host does not expire sessions
// itself; sessions.Manager checks those fields when it loads a session.
//
// Design Notes
//   - Session streams: XADD + XREAD, at-least-once delivery
//   - Internal events: native Redis Pub/Sub per (sessionID, topic) channel
//   - Metadata: JSON blob stored at a single key; MutateSession is guarded by
//     a Lua script that checks existence before persisting the mutated value
//   - Revocation: DeleteSession tombstones the metadata (Revoked=true) with a
//     bounded expiry rather than deleting the key outright, so a request
//     racing a concurrent deletion observes ErrSessionRevoked
//
// Example:
//
//	host, _ := redishost.New(redishost.Config{RedisAddr: "localhost:6379"})
//	defer host.Close()
//
// Use memoryhost for ephemeral development; use redishost where scale-out or
// restart persistence is required.
package redishost
