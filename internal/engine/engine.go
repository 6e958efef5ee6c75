package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gomcp/corekit/internal/outbound"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpcontext"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/schema"
	"github.com/gomcp/corekit/sessions"
)

const (
	defaultSessionTTL         = 1 * time.Hour
	defaultSessionMaxLifetime = 24 * time.Hour
	defaultHandshakeTTL       = 30 * time.Second
)

var (
	ErrCancelled     = errors.New("operation cancelled")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInternal      = errors.New("internal error")
)

// Engine is the core of an MCP server, coordinating sessions, message
// routing, and protocol handling. It is transport-agnostic: a transport
// creates or loads a session via Engine, hands it incoming JSON-RPC requests
// and notifications, and streams outgoing messages by subscribing to the
// session's ordered message log.
type Engine struct {
	mgr sessions.Manager
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	sessionTTL         time.Duration
	sessionMaxLifetime time.Duration
	handshakeTTL       time.Duration

	toolCtxMu      sync.Mutex
	toolCtxCancels map[string]context.CancelCauseFunc // reqID -> cancel func

	subMu   sync.Mutex
	subURIs map[string]map[string]struct{} // sessionID -> set(uri) of active resource subscriptions

	wireMu sync.Mutex
	wired  map[string]bool // sessionID -> listChanged emitters registered
}

func NewEngine(host sessions.Host, srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		mgr:                sessions.NewManager(host),
		srv:                srv,
		log:                slog.Default(),
		sessionTTL:         defaultSessionTTL,
		sessionMaxLifetime: defaultSessionMaxLifetime,
		handshakeTTL:       defaultHandshakeTTL,
		toolCtxCancels:     make(map[string]context.CancelCauseFunc),
		subURIs:            make(map[string]map[string]struct{}),
		wired:              make(map[string]bool),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSessionTTL overrides the sliding TTL applied once a session is open.
func WithSessionTTL(d time.Duration) EngineOption { return func(e *Engine) { e.sessionTTL = d } }

// WithSessionMaxLifetime sets an absolute maximum lifetime horizon (0 = disabled).
func WithSessionMaxLifetime(d time.Duration) EngineOption {
	return func(e *Engine) { e.sessionMaxLifetime = d }
}

// WithHandshakeTTL sets the TTL for a session awaiting notifications/initialized.
func WithHandshakeTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.handshakeTTL = d
		}
	}
}

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// InitializeSession handles the MCP initialize handshake, creating a session
// record, wiring negotiated capabilities against dispatcher (the transport's
// outbound channel back to the client, nil if the transport cannot carry
// server-initiated calls), and returning the InitializeResult payload
// alongside the new session.
func (e *Engine) InitializeSession(ctx context.Context, userID string, req *mcp.InitializeRequest, dispatcher *outbound.Dispatcher) (sessions.Session, *mcp.InitializeResult, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("initialize request required")
	}
	if userID == "" {
		return nil, nil, ErrInvalidUserID
	}

	negotiatedVersion := req.ProtocolVersion
	if v, ok, err := e.srv.GetPreferredProtocolVersion(ctx); err != nil {
		return nil, nil, fmt.Errorf("get preferred protocol version: %w", err)
	} else if ok && v != "" {
		negotiatedVersion = v
	}

	var sessOpts []sessions.SessionOption
	if req.Capabilities.Sampling != nil {
		sessOpts = append(sessOpts, sessions.WithSamplingCapability())
	}
	if req.Capabilities.Roots != nil {
		sessOpts = append(sessOpts, sessions.WithRootsCapability(req.Capabilities.Roots.ListChanged))
	}
	if req.Capabilities.Elicitation != nil {
		sessOpts = append(sessOpts, sessions.WithElicitationCapability())
	}

	mgrOpts := []sessions.ManagerOption{
		sessions.WithProtocolVersion(negotiatedVersion),
		sessions.WithClientInfo(sessions.MetadataClientInfo{Name: req.ClientInfo.Name, Version: req.ClientInfo.Version}),
		sessions.WithTTL(e.handshakeTTL),
		sessions.WithMaxLifetime(e.sessionMaxLifetime),
		sessions.WithCapabilities(sessOpts...),
	}
	if dispatcher != nil {
		mgrOpts = append(mgrOpts, sessions.WithDispatcher(dispatcher))
	}

	start := time.Now()
	sess, err := e.mgr.CreateSession(ctx, userID, mgrOpts...)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.create_session.fail", slog.String("err", err.Error()))
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	ctx = mcpcontext.WithSessionData(ctx, &mcpcontext.SessionData{SessionID: sess.SessionID(), UserID: sess.UserID(), ProtocolVersion: sess.ProtocolVersion()})
	e.log.InfoContext(ctx, "engine.create_session.ok", slog.Duration("dur", time.Since(start)))

	cleanup := true
	defer func() {
		if cleanup {
			_ = e.mgr.DeleteSession(ctx, sess.SessionID())
		}
	}()

	initRes, err := e.buildInitializeResult(ctx, sess, negotiatedVersion)
	if err != nil {
		return nil, nil, err
	}

	cleanup = false
	return sess, initRes, nil
}

// buildInitializeResult gathers server info and negotiated capabilities for
// an InitializeResult. Shared by InitializeSession (the transport's
// out-of-band handshake entry point) and handleInitialize (a client
// re-sending initialize on an already-created session).
func (e *Engine) buildInitializeResult(ctx context.Context, sess sessions.Session, negotiatedVersion string) (*mcp.InitializeResult, error) {
	serverInfo, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	initRes := &mcp.InitializeResult{
		ProtocolVersion: negotiatedVersion,
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		initRes.Instructions = instr
	}

	if resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok && resCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
		if subCap, hasSub, subErr := resCap.GetSubscriptionCapability(ctx, sess); subErr != nil {
			return nil, fmt.Errorf("get resources subscription capability: %w", subErr)
		} else if hasSub && subCap != nil {
			entry.Subscribe = true
		}
		if lcCap, hasLC, lcErr := resCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, fmt.Errorf("get resources listChanged capability: %w", lcErr)
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Resources = entry
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && toolsCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
		}{}
		if lcCap, hasLC, lcErr := toolsCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, fmt.Errorf("get tools listChanged capability: %w", lcErr)
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Tools = entry
	}

	if promptsCap, ok, err := e.srv.GetPromptsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get prompts capability: %w", err)
	} else if ok && promptsCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
		}{}
		if lcCap, hasLC, lcErr := promptsCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, fmt.Errorf("get prompts listChanged capability: %w", lcErr)
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Prompts = entry
	}

	if _, ok, err := e.srv.GetLoggingCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get logging capability: %w", err)
	} else if ok {
		initRes.Capabilities.Logging = &struct{}{}
	}

	if _, ok, err := e.srv.GetCompletionsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get completions capability: %w", err)
	} else if ok {
		initRes.Capabilities.Completions = &struct{}{}
	}

	return initRes, nil
}

// LoadSession retrieves and validates an existing session, bumping its
// sliding TTL. dispatcher carries server-initiated calls for this load (nil
// if the transport cannot carry them, e.g. a bare stdin/stdout reconnect).
func (e *Engine) LoadSession(ctx context.Context, sessID, userID string, dispatcher *outbound.Dispatcher) (sessions.Session, error) {
	start := time.Now()

	var mgrOpts []sessions.ManagerOption
	if dispatcher != nil {
		mgrOpts = append(mgrOpts, sessions.WithDispatcher(dispatcher))
	}

	sess, err := e.mgr.LoadSession(ctx, sessID, mgrOpts...)
	if err != nil {
		e.log.InfoContext(ctx, "engine.load_session.fail", slog.String("err", err.Error()))
		return nil, err
	}
	if sess.UserID() != userID {
		e.log.InfoContext(ctx, "engine.load_session.denied")
		return nil, sessions.ErrSessionNotFound
	}

	e.log.InfoContext(ctx, "engine.load_session.ok", slog.Duration("dur", time.Since(start)))

	e.wireListChangedEmitters(ctx, sess)

	return sess, nil
}

// MarkInitialized transitions a freshly created session from Initializing to
// Ready and extends it past its handshake TTL, once the client confirms
// notifications/initialized.
func (e *Engine) MarkInitialized(ctx context.Context, sess sessions.Session) error {
	return e.mgr.MarkReady(ctx, sess, e.sessionTTL)
}

func (e *Engine) HandleRequest(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req.Method != string(mcp.InitializeMethod) && req.Method != string(mcp.PingMethod) && sess.State() != sessions.StateReady {
		e.log.InfoContext(ctx, "engine.handle_request.not_ready", slog.String("method", req.Method), slog.String("state", string(sess.State())))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerNotInitialized, "server not initialized", nil), nil
	}

	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, sess, req)
	case string(mcp.PingMethod):
		return e.handlePing(ctx, sess, req)
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, sess, req)
	case string(mcp.ResourcesListMethod):
		return e.handleResourcesList(ctx, sess, req)
	case string(mcp.ResourcesReadMethod):
		return e.handleResourcesRead(ctx, sess, req)
	case string(mcp.ResourcesTemplatesListMethod):
		return e.handleResourcesTemplatesList(ctx, sess, req)
	case string(mcp.ResourcesSubscribeMethod):
		return e.handleResourcesSubscribe(ctx, sess, req)
	case string(mcp.ResourcesUnsubscribeMethod):
		return e.handleResourcesUnsubscribe(ctx, sess, req)
	case string(mcp.PromptsListMethod):
		return e.handlePromptsList(ctx, sess, req)
	case string(mcp.PromptsGetMethod):
		return e.handlePromptsGet(ctx, sess, req)
	case string(mcp.CompletionCompleteMethod):
		return e.handleCompletionsComplete(ctx, sess, req)
	case string(mcp.LoggingSetLevelMethod):
		return e.handleSetLoggingLevel(ctx, sess, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, sess, req)
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found", nil), nil
}

// handleInitialize responds to a client re-sending initialize on a session
// that already exists (the initial handshake itself is handled out of band
// by InitializeSession, before a Session object exists to dispatch through).
func (e *Engine) handleInitialize(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	negotiatedVersion := sess.ProtocolVersion()
	if negotiatedVersion == "" {
		negotiatedVersion = params.ProtocolVersion
	}

	initRes, err := e.buildInitializeResult(ctx, sess, negotiatedVersion)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, initRes)
}

// handlePing answers a liveness check with an empty result at any point in
// the session lifecycle, including before the handshake completes.
func (e *Engine) handlePing(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	e.log.InfoContext(ctx, "engine.handle_request.ok", slog.String("method", req.Method))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// HandleNotification processes an incoming JSON-RPC notification from a client.
func (e *Engine) HandleNotification(ctx context.Context, sess sessions.Session, note *jsonrpc.Request) error {
	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		if err := e.MarkInitialized(ctx, sess); err != nil {
			e.log.ErrorContext(ctx, "engine.handle_notification.open.fail", slog.String("err", err.Error()))
		}
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil
	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.ErrorContext(ctx, "engine.handle_notification.err", slog.String("err", err.Error()))
			return nil
		}
		if params.RequestID != nil && !params.RequestID.IsNil() {
			ridStr := params.RequestID.String()
			hadCancel := e.cancelInFlightRequest(ridStr, params.Reason)
			e.log.InfoContext(ctx, "engine.handle_notification.cancel", slog.String("request_id", ridStr), slog.Bool("had_cancel", hadCancel))
		}
		return nil
	}

	if sess.State() != sessions.StateReady {
		e.log.InfoContext(ctx, "engine.handle_notification.not_ready", slog.String("method", note.Method), slog.String("state", string(sess.State())))
		return nil
	}

	e.log.InfoContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))
	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok, err := e.srv.GetLoggingCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging level not supported", nil), nil
	}

	if err := cap.SetLevel(ctx, sess, params.Level); err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// handleResourcesSubscribe wires a per-URI subscription via the provider and tracks it for teardown.
func (e *Engine) handleResourcesSubscribe(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SubscribeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "invalid params"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || resCap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}
	subCap, hasSub, err := resCap.GetSubscriptionCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !hasSub || subCap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "subscriptions not supported", nil), nil
	}

	e.subMu.Lock()
	if _, ok := e.subURIs[sess.SessionID()]; !ok {
		e.subURIs[sess.SessionID()] = make(map[string]struct{})
	}
	if _, exists := e.subURIs[sess.SessionID()][params.URI]; exists {
		e.subMu.Unlock()
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	}
	e.subMu.Unlock()

	if err := subCap.Subscribe(ctx, sess, params.URI); err != nil {
		log.InfoContext(ctx, "engine.handle_request.subscribe.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	e.subMu.Lock()
	e.subURIs[sess.SessionID()][params.URI] = struct{}{}
	e.subMu.Unlock()

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// handleResourcesUnsubscribe cancels the local subscription for a URI, if any.
func (e *Engine) handleResourcesUnsubscribe(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.UnsubscribeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "invalid params"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	e.subMu.Lock()
	_, subscribed := e.subURIs[sess.SessionID()][params.URI]
	e.subMu.Unlock()

	if subscribed {
		if resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess); err == nil && ok && resCap != nil {
			if subCap, hasSub, err := resCap.GetSubscriptionCapability(ctx, sess); err == nil && hasSub && subCap != nil {
				if err := subCap.Unsubscribe(ctx, sess, params.URI); err != nil {
					log.ErrorContext(ctx, "engine.resources.unsubscribe.fail", slog.String("err", err.Error()))
				}
			}
		}

		e.subMu.Lock()
		if m := e.subURIs[sess.SessionID()]; m != nil {
			delete(m, params.URI)
			if len(m) == 0 {
				delete(e.subURIs, sess.SessionID())
			}
		}
		e.subMu.Unlock()
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

func (e *Engine) handleToolsList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListTools(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = mcpcontext.WithToolCallData(ctx, &mcpcontext.ToolCallData{ToolName: params.Name})

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	reqID := req.ID.String()
	if reqID == "" {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "missing request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "missing request ID", nil), nil
	}

	toolCtx, toolCancel := context.WithCancelCause(ctx)
	defer toolCancel(context.Canceled)

	e.toolCtxMu.Lock()
	if _, exists := e.toolCtxCancels[reqID]; exists {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "duplicate request ID"))
		e.toolCtxMu.Unlock()
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	e.toolCtxCancels[reqID] = toolCancel
	e.toolCtxMu.Unlock()

	defer func() {
		e.toolCtxMu.Lock()
		delete(e.toolCtxCancels, reqID)
		e.toolCtxMu.Unlock()
	}()

	res, err := cap.CallTool(toolCtx, sess, &params)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeRequestCancelled, "request cancelled", nil), nil
		}
		var verr *schema.ValidationErrors
		if errors.As(err, &verr) {
			log.InfoContext(ctx, "engine.handle_request.invalid_arguments", slog.Int("errors", len(verr.Errors)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, verr.Error(), map[string]any{"errors": verr.Errors}), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourceTemplatesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListResourceTemplates(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("template_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handlePromptsList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListPromptsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListPrompts(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ListPromptsResult{Prompts: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("prompt_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.GetPromptRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}

	result, err := cap.GetPrompt(ctx, sess, &params)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleCompletionsComplete(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CompleteRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok, err := e.srv.GetCompletionsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "completions capability not supported", nil), nil
	}

	result, err := cap.Complete(ctx, sess, &params)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListResources(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("resource_count", len(page.Items)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.URI == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing uri"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}

	contents, err := cap.ReadResource(ctx, sess, params.URI)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	res := &mcp.ReadResourceResult{Contents: contents}
	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("content_count", len(contents)))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) cancelInFlightRequest(reqID string, reason string) bool {
	if reqID == "" {
		return false
	}
	e.toolCtxMu.Lock()
	cancel, exists := e.toolCtxCancels[reqID]
	e.toolCtxMu.Unlock()

	if exists && cancel != nil {
		cancelReason := reason
		if cancelReason == "" {
			cancelReason = "cancelled"
		}
		cancel(errors.New(cancelReason))
	}
	return exists && cancel != nil
}

// wireListChangedEmitters ensures that the given session has listeners
// registered for any supported listChanged capabilities, idempotently.
func (e *Engine) wireListChangedEmitters(ctx context.Context, sess sessions.Session) {
	sid := sess.SessionID()

	e.wireMu.Lock()
	if e.wired[sid] {
		e.wireMu.Unlock()
		return
	}
	e.wired[sid] = true
	e.wireMu.Unlock()

	bg := context.WithoutCancel(ctx)

	publishNote := func(method mcp.Method) {
		note := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(method)}
		bytes, err := json.Marshal(note)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.emitter.encode.fail", slog.String("err", err.Error()))
			return
		}
		if err := e.publishToSession(bg, sess, bytes); err != nil {
			e.log.ErrorContext(ctx, "engine.emitter.publish.fail", slog.String("err", err.Error()))
		}
	}

	if resCap, ok, err := e.srv.GetResourcesCapability(bg, sess); err == nil && ok && resCap != nil {
		if lc, hasLC, lErr := resCap.GetListChangedCapability(bg, sess); lErr == nil && hasLC && lc != nil {
			_, _ = lc.Register(bg, sess, func(cbCtx context.Context, s sessions.Session, uri string) {
				publishNote(mcp.ResourcesListChangedNotificationMethod)
			})
		}
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(bg, sess); err == nil && ok && toolsCap != nil {
		if lc, hasLC, lErr := toolsCap.GetListChangedCapability(bg, sess); lErr == nil && hasLC && lc != nil {
			_, _ = lc.Register(bg, sess, func(cbCtx context.Context, s sessions.Session) {
				publishNote(mcp.ToolsListChangedNotificationMethod)
			})
		}
	}

	if promptsCap, ok, err := e.srv.GetPromptsCapability(bg, sess); err == nil && ok && promptsCap != nil {
		if lc, hasLC, lErr := promptsCap.GetListChangedCapability(bg, sess); lErr == nil && hasLC && lc != nil {
			_, _ = lc.Register(bg, sess, func(cbCtx context.Context, s sessions.Session) {
				publishNote(mcp.PromptsListChangedNotificationMethod)
			})
		}
	}
}

// StreamSession subscribes the caller to the per-session client-facing
// stream starting after lastEventID.
func (e *Engine) StreamSession(ctx context.Context, sess sessions.Session, lastEventID string, handler sessions.MessageHandlerFunction) error {
	return sess.ConsumeMessages(ctx, lastEventID, handler)
}

// DeleteSession tears down local subscriptions and removes the session.
func (e *Engine) DeleteSession(ctx context.Context, sess sessions.Session) error {
	e.cancelAllSubscriptionsForSession(ctx, sess)

	e.wireMu.Lock()
	delete(e.wired, sess.SessionID())
	e.wireMu.Unlock()

	if err := e.mgr.DeleteSession(ctx, sess.SessionID()); err != nil {
		e.log.ErrorContext(ctx, "engine.delete_session.err", slog.String("err", err.Error()))
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

// BeginShutdown moves sess into ShuttingDown. A transport calls this before
// draining in-flight requests, so any request that arrives after this point
// (but before the transport tears the connection down) is rejected with
// -32002 by the HandleRequest state gate rather than processed.
func (e *Engine) BeginShutdown(ctx context.Context, sess sessions.Session) error {
	return e.mgr.BeginShutdown(ctx, sess)
}

// TerminateSession moves sess into Terminated and releases it, cancelling
// local subscriptions the same way DeleteSession does. Call this once a
// transport has finished draining a session it is shutting down.
func (e *Engine) TerminateSession(ctx context.Context, sess sessions.Session) error {
	e.cancelAllSubscriptionsForSession(ctx, sess)

	e.wireMu.Lock()
	delete(e.wired, sess.SessionID())
	e.wireMu.Unlock()

	if err := e.mgr.Terminate(ctx, sess); err != nil {
		e.log.ErrorContext(ctx, "engine.terminate_session.err", slog.String("err", err.Error()))
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

func (e *Engine) publishToSession(ctx context.Context, sess sessions.Session, bytes []byte) error {
	return sess.WriteMessage(ctx, bytes)
}

// cancelAllSubscriptionsForSession unsubscribes and removes all tracked
// resource subscriptions for sess.
func (e *Engine) cancelAllSubscriptionsForSession(ctx context.Context, sess sessions.Session) {
	e.subMu.Lock()
	m := e.subURIs[sess.SessionID()]
	uris := make([]string, 0, len(m))
	for uri := range m {
		uris = append(uris, uri)
	}
	delete(e.subURIs, sess.SessionID())
	e.subMu.Unlock()

	if len(uris) == 0 {
		return
	}

	resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil || !ok || resCap == nil {
		return
	}
	subCap, hasSub, err := resCap.GetSubscriptionCapability(ctx, sess)
	if err != nil || !hasSub || subCap == nil {
		return
	}
	for _, uri := range uris {
		if err := subCap.Unsubscribe(ctx, sess, uri); err != nil {
			e.log.ErrorContext(ctx, "engine.resources.unsubscribe_all.fail", slog.String("uri", uri), slog.String("err", err.Error()))
		}
	}
}
