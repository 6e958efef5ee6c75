// Package mcpcontext carries ambient request, session, RPC, and tool-call
// data through a context.Context so that a single log/slog.Handler
// (Handler) can attach it to every log record without every call site
// threading it through explicitly.
package mcpcontext
