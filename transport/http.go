package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gomcp/corekit/auth"
	"github.com/gomcp/corekit/internal/engine"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/middleware"
	"github.com/gomcp/corekit/sessions"
	"github.com/gomcp/corekit/sessions/memoryhost"
	"log/slog"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader    = "Mcp-Session-Id"
	lastEventIDHeader     = "Last-Event-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "Www-Authenticate"

	httpRequestTimeout = 30 * time.Second
)

// writeFlusher is satisfied by the subset of http.ResponseWriter
// implementations that also support incremental flushing, which streaming a
// response as Server-Sent Events depends on.
type writeFlusher interface {
	http.ResponseWriter
	http.Flusher
}

// HTTPOption customizes an HTTPHandler.
type HTTPOption func(*HTTPHandler)

// WithHTTPLogger overrides the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPHandler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithHTTPHost overrides the sessions.Host backing session metadata and the
// per-session message log. Defaults to an in-process memoryhost.Host; a
// multi-replica deployment should supply a shared host (e.g. redishost) so a
// session's GET stream can be served by a different process than the one
// that handled its POST.
func WithHTTPHost(h sessions.Host) HTTPOption {
	return func(hh *HTTPHandler) {
		if h != nil {
			hh.host = h
		}
	}
}

// WithAuthenticator sets the bearer-token authenticator every request must
// pass before reaching a session. Required: without one, the handler has no
// way to derive the userID a session is bound to.
func WithAuthenticator(a auth.Authenticator) HTTPOption {
	return func(h *HTTPHandler) { h.authn = a }
}

// WithServerURL sets the realm advertised in WWW-Authenticate challenges.
func WithServerURL(u string) HTTPOption {
	return func(h *HTTPHandler) { h.serverURL = u }
}

// WithHTTPMiddleware appends mws, outermost-first, to the chain wrapping
// every inbound request before it reaches the Engine, the same convention
// transport.Server uses for stdio.
func WithHTTPMiddleware(mws ...middleware.Middleware) HTTPOption {
	return func(h *HTTPHandler) { h.mws = append(h.mws, mws...) }
}

// HTTPHandler is an http.Handler exposing an MCP server over the streamable
// HTTP transport: POST /mcp carries client-to-server requests and
// notifications (with a single-shot SSE response per request), GET /mcp
// opens a long-lived SSE stream of server-to-client messages for an
// already-initialized session. It is transport-only: all MCP semantics are
// delegated to the internal Engine built around the ServerCapabilities
// passed to NewHTTPHandler.
type HTTPHandler struct {
	srv       mcpservice.ServerCapabilities
	authn     auth.Authenticator
	log       *slog.Logger
	host      sessions.Host
	serverURL string
	mws       []middleware.Middleware

	eng    *engine.Engine
	mux    *http.ServeMux
	handle middleware.Handler
}

// NewHTTPHandler constructs an HTTPHandler and applies opts.
func NewHTTPHandler(srv mcpservice.ServerCapabilities, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		srv:       srv,
		log:       slog.Default(),
		serverURL: "mcp",
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.host == nil {
		h.host = memoryhost.New()
	}
	h.eng = engine.NewEngine(h.host, h.srv, engine.WithLogger(h.log))
	chain := middleware.Chain(append([]middleware.Middleware{middleware.Logging(h.log)}, h.mws...)...)
	h.handle = chain(h.eng.HandleRequest)

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /mcp", h.handlePostMCP)
	h.mux.HandleFunc("GET /mcp", h.handleGetMCP)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handlePostMCP handles POST /mcp, which carries both session establishment
// (an initialize request with no Mcp-Session-Id header) and steady-state
// client-to-server traffic against an existing session.
func (h *HTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	wf, ok := w.(writeFlusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), httpRequestTimeout)
	defer cancel()

	userID := h.checkAuthentication(ctx, r, w)
	if userID == "" {
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleSessionInitialization(ctx, wf, w, userID, &msg)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userID, nil)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if req := msg.AsRequest(); req != nil {
		if req.ID.IsNil() {
			if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
				h.log.ErrorContext(ctx, "transport.http.notification.fail", slog.String("method", req.Method), slog.String("err", err.Error()))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", eventStreamMediaType.String())
		w.WriteHeader(http.StatusOK)

		reqCtx, reqCancel := context.WithCancel(r.Context())
		defer reqCancel()
		streamSess := newSessionWithWriter(reqCtx, sess, wf)

		res, err := h.handle(reqCtx, streamSess, req)
		if err != nil {
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
		if err := writeSSEEvent(wf, "response", "", res); err != nil {
			h.log.ErrorContext(ctx, "transport.http.response.write.fail", slog.String("err", err.Error()))
		}
		return
	}

	if res := msg.AsResponse(); res != nil {
		// A response from the client to a server-initiated call; there is no
		// outbound.Dispatcher wired for plain HTTP POSTs today (no channel to
		// correlate it against), so it is accepted and dropped.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.WriteHeader(http.StatusBadRequest)
}

// handleSessionInitialization handles the no-Mcp-Session-Id-header case of
// handlePostMCP: the client must be sending an initialize request to
// establish a brand new session.
func (h *HTTPHandler) handleSessionInitialization(ctx context.Context, wf writeFlusher, w http.ResponseWriter, userID string, msg *jsonrpc.AnyMessage) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	sess, initRes, err := h.eng.InitializeSession(ctx, userID, &initReq, nil)
	if err != nil {
		h.log.ErrorContext(ctx, "transport.http.initialize.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	res, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.SessionID())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := writeSSEEvent(wf, "response", "", res); err != nil {
		h.log.ErrorContext(ctx, "transport.http.initialize.write.fail", slog.String("err", err.Error()))
	}
}

// handleGetMCP handles GET /mcp, which opens a long-lived SSE stream
// delivering server-to-client messages for an already-established session,
// resuming after lastEventID when present.
func (h *HTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	wf, ok := w.(writeFlusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	userID := h.checkAuthentication(ctx, r, w)
	if userID == "" {
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userID, nil)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	lastEventID := r.Header.Get(lastEventIDHeader)
	if err := h.eng.StreamSession(ctx, sess, lastEventID, func(ctx context.Context, msgID string, bytes []byte) error {
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(bytes, &msg); err != nil {
			return fmt.Errorf("unmarshal session message: %w", err)
		}
		eventType := msg.Type()
		if eventType == "" {
			eventType = "message"
		}
		return writeSSEEvent(wf, eventType, msgID, &msg)
	}); err != nil {
		h.log.WarnContext(ctx, "transport.http.stream.ended", slog.String("err", err.Error()))
	}
}

// checkAuthentication validates the request's bearer token and returns the
// resolved userID, or "" after having already written an error response.
func (h *HTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) string {
	if h.authn == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return ""
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		w.Header().Add(wwwAuthenticateHeader, fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description="no token provided"`, h.serverURL))
		w.WriteHeader(http.StatusUnauthorized)
		return ""
	}

	tok, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tok == "" {
		w.Header().Add(wwwAuthenticateHeader, fmt.Sprintf(`Bearer realm=%q, error="invalid_request", error_description="malformed authorization header"`, h.serverURL))
		w.WriteHeader(http.StatusBadRequest)
		return ""
	}

	userInfo, err := h.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			w.Header().Add(wwwAuthenticateHeader, fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description=%q`, h.serverURL, err.Error()))
			w.WriteHeader(http.StatusUnauthorized)
			return ""
		}
		if errors.Is(err, auth.ErrInsufficientScope) {
			w.Header().Add(wwwAuthenticateHeader, fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope", error_description=%q`, h.serverURL, err.Error()))
			w.WriteHeader(http.StatusForbidden)
			return ""
		}
		w.WriteHeader(http.StatusInternalServerError)
		return ""
	}

	return userInfo.UserID()
}

// writeSSEEvent writes a single Server-Sent Event framing message as the
// data field of eventType, flushing immediately so a streaming client sees
// it without buffering delay.
func writeSSEEvent(wf writeFlusher, eventType string, msgID string, message any) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return fmt.Errorf("write SSE event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(wf, "event: %s\ndata: ", eventType); err != nil {
		return fmt.Errorf("write SSE event header: %w", err)
	}
	if err := json.NewEncoder(wf).Encode(message); err != nil {
		return fmt.Errorf("write SSE event data: %w", err)
	}
	if _, err := wf.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write SSE event footer: %w", err)
	}
	wf.Flush()
	return nil
}

// sessionWithWriter wraps a sessions.Session so that, for the lifetime of a
// single POST /mcp request, any WriteMessage call is forwarded directly
// onto that request's SSE response instead of the session's durable message
// log — letting a handler answer with intermediate notifications over the
// same stream it uses for the final response. Once reqCtx is done (the
// client disconnected or the request timed out), it falls back to the
// underlying session's WriteMessage so the message is not dropped.
type sessionWithWriter struct {
	sessions.Session
	reqCtx context.Context
	wf     writeFlusher
	mu     sync.Mutex
}

func newSessionWithWriter(reqCtx context.Context, session sessions.Session, wf writeFlusher) sessions.Session {
	return &sessionWithWriter{Session: session, reqCtx: reqCtx, wf: wf}
}

func (s *sessionWithWriter) WriteMessage(ctx context.Context, bytes []byte) error {
	if s.reqCtx.Err() != nil {
		return s.Session.WriteMessage(ctx, bytes)
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(bytes, &msg); err != nil {
		return err
	}

	s.mu.Lock()
	err := writeSSEEvent(s.wf, msg.Type(), "", &msg)
	s.mu.Unlock()
	if err != nil {
		return s.Session.WriteMessage(ctx, bytes)
	}
	return nil
}
