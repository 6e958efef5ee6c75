// Package sessions defines the core session abstraction shared by MCP
// transports and server capability code. A session represents the negotiated
// protocol version, authenticated principal, and optional capability surface
// for a connected client. Transports create and persist session metadata via
// a Host implementation and attach capability handles backed by an outbound
// dispatcher for talking back to the client.
//
// Layers & Roles
//
//	Transport      -> orchestrates initialize handshake, manages lifetime
//	Host           -> durability & coordination (ordered client stream + internal events + metadata)
//	Manager         -> creates/loads sessions against a Host, enforces TTL/revocation
//	Session object -> per-session view exposed to capability code
//
// # Host Interface
//
// Host abstracts persistence and fan-out semantics required by streaming
// transports:
//   - CreateSession / GetSession / MutateSession / TouchSession / DeleteSession : metadata CRUD, sliding TTL & revocation
//   - PublishSession / SubscribeSession / CleanupSession                        : ordered client-visible message log (at-least-once)
//   - PublishEvent / SubscribeEvents                                            : server-internal coordination topics (e.g. roots/list_changed fanout)
//
// Implementations
//
//	memoryhost : in-memory reference used for tests / single-process deployments
//	redishost  : Redis Streams + Pub/Sub backed implementation for horizontal scale and durability
//
// Both implementations are exercised by the shared sessionhosttest
// conformance suite, so either can be swapped in behind Manager without the
// rest of the server noticing.
//
// # Capabilities
//
// A Session may expose optional capability interfaces (sampling, roots,
// elicitation), each attached at creation time via a SessionOption and backed
// by an *outbound.Dispatcher that carries the call to the connected client.
// Engine/transport code interrogates these when handling incoming requests
// that need to call back into the client; absence simply means the server
// did not elect to provide that surface for the session.
package sessions
