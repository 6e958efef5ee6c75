package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"sync"
	"time"

	"github.com/gomcp/corekit/internal/engine"
	"github.com/gomcp/corekit/internal/outbound"
	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/mcpservice"
	"github.com/gomcp/corekit/middleware"
	"github.com/gomcp/corekit/sessions"
	"github.com/gomcp/corekit/sessions/memoryhost"
	"golang.org/x/sync/errgroup"
)

// UserProvider resolves the identity a stdio peer is treated as. Stdio has
// no bearer token exchange; a local process is presumed to be whoever the
// OS says is running it.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the current OS user, preferring the username and
// falling back to the numeric uid when a username is unavailable.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StdioBacking implements Transport over an io.Reader/io.Writer pair using
// newline-delimited JSON framing. Incoming lines are trimmed of a trailing
// \r so peers that write CRLF-terminated frames are handled without special
// configuration; blank lines are skipped rather than treated as empty
// messages.
type StdioBacking struct {
	sc *bufio.Scanner

	wmu sync.Mutex
	w   io.Writer

	pt PingTracker

	closed   chan struct{}
	closeErr error
	closeMu  sync.Mutex
}

// NewStdioBacking constructs a StdioBacking reading newline-delimited
// frames from r and writing them to w. Scanner buffer size is capped at 8MB
// to bound a single malformed peer's memory footprint.
func NewStdioBacking(r io.Reader, w io.Writer) *StdioBacking {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &StdioBacking{sc: sc, w: w, closed: make(chan struct{})}
}

func (s *StdioBacking) Send(ctx context.Context, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(payload); err != nil {
		s.pt.RecordUnreachable()
		return err
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		s.pt.RecordUnreachable()
		return err
	}
	return nil
}

func (s *StdioBacking) Recv(ctx context.Context) ([]byte, error) {
	for s.sc.Scan() {
		line := bytes.TrimRight(s.sc.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := s.sc.Err(); err != nil {
		s.pt.RecordUnreachable()
		return nil, err
	}
	s.pt.RecordUnreachable()
	return nil, io.EOF
}

func (s *StdioBacking) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return s.closeErr
}

func (s *StdioBacking) Health() Health { return s.pt.Health() }

var _ Transport = (*StdioBacking)(nil)

// dispatcherTransport adapts a StdioBacking to outbound.Transport so
// server-initiated requests (ping, sampling, elicitation, roots/list) share
// the same wire with client-initiated ones.
type dispatcherTransport struct{ b *StdioBacking }

func (t dispatcherTransport) SendRequest(ctx context.Context, id *jsonrpc.RequestID, req *jsonrpc.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return t.b.Send(ctx, b)
}

func (t dispatcherTransport) SendCancelled(ctx context.Context, requestID string) error {
	n := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.CancelledNotificationMethod),
		Params:         mustMarshal(map[string]any{"requestId": requestID}),
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return t.b.Send(ctx, b)
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Option customizes a Server.
type Option func(*Server)

// WithIO sets both the reader and writer.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(s *Server) {
		if r != nil {
			s.r = r
		}
		if w != nil {
			s.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(s *Server) {
		if r != nil {
			s.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(s *Server) {
		if w != nil {
			s.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithUserProvider overrides how the peer's user id is resolved.
func WithUserProvider(up UserProvider) Option {
	return func(s *Server) {
		if up != nil {
			s.userProvider = up
		}
	}
}

// WithPingInterval overrides how often the server pings the peer to track
// connection health. Two consecutive missed cycles mark the connection
// Degraded.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithHost overrides the sessions.Host backing session metadata and the
// message log. Defaults to an in-process memoryhost.Host, appropriate for
// the single-connection nature of stdio.
func WithHost(h sessions.Host) Option {
	return func(s *Server) {
		if h != nil {
			s.host = h
		}
	}
}

// WithMiddleware appends mws, outermost-first, to the chain wrapping every
// inbound request before it reaches the Engine. Stdio peers have no bearer
// token (identity comes from the OS user, resolved by UserProvider), so
// middleware.Auth is not part of the default chain here — wire it
// explicitly only for a deployment that also terminates bearer credentials
// over this same process, e.g. a sidecar that authenticates the peer some
// other way and calls middleware.WithBearerToken itself.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.mws = append(s.mws, mws...)
	}
}

// Server is a single-connection MCP transport over stdin/stdout (or any
// other io.Reader/io.Writer pair). It is transport-only: all MCP semantics
// are delegated to the internal Engine built around the ServerCapabilities
// passed to NewServer.
type Server struct {
	srv          mcpservice.ServerCapabilities
	r            io.Reader
	w            io.Writer
	log          *slog.Logger
	userProvider UserProvider
	pingInterval time.Duration
	host         sessions.Host

	eng        *engine.Engine
	dispatcher *outbound.Dispatcher
	mws        []middleware.Middleware
	handle     middleware.Handler

	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc // request id -> cancel
}

// NewServer constructs a stdio Server with defaults (os.Stdin/os.Stdout, the
// OS user as identity, a 30s ping interval, an in-process memoryhost) and
// applies opts.
func NewServer(srv mcpservice.ServerCapabilities, opts ...Option) *Server {
	s := &Server{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		log:          slog.Default(),
		userProvider: OSUserProvider{},
		pingInterval: 30 * time.Second,
		inFlight:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.host == nil {
		s.host = memoryhost.New()
	}
	s.eng = engine.NewEngine(s.host, s.srv, engine.WithLogger(s.log))
	chain := middleware.Chain(append([]middleware.Middleware{middleware.Logging(s.log)}, s.mws...)...)
	s.handle = chain(s.eng.HandleRequest)
	return s
}

// Serve runs the read/dispatch/write loop until EOF on the reader, the
// context is cancelled, or an unrecoverable transport error occurs. Serve
// is safe to call at most once per Server.
//
// The first message received must be an initialize request; Serve performs
// the handshake against Engine before entering the steady-state loop. Once
// initialized, requests are dispatched concurrently (one goroutine per
// request) so a slow tool call does not block ping/list/read traffic
// arriving after it; responses are written as they complete, not in
// request order.
func (s *Server) Serve(ctx context.Context) error {
	backing := NewStdioBacking(s.r, s.w)
	defer backing.Close()

	userID, err := s.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("resolve peer identity: %w", err)
	}

	sess, dispatcher, err := s.handshake(ctx, backing, userID)
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pingLoop(gctx, backing, dispatcher) })
	g.Go(func() error { return s.readLoop(gctx, backing, sess, userID) })

	err = g.Wait()
	s.shutdown(context.Background(), sess)
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) handshake(ctx context.Context, backing *StdioBacking, userID string) (sessions.Session, *outbound.Dispatcher, error) {
	line, err := backing.Recv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read initialize: %w", err)
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode initialize: %w", err)
	}
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		return nil, nil, fmt.Errorf("expected initialize request, got %q", msg.Method)
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return nil, nil, fmt.Errorf("decode initialize params: %w", err)
		}
	}

	dispatcher := outbound.New(dispatcherTransport{b: backing})
	sess, initRes, err := s.eng.InitializeSession(ctx, userID, &initReq, dispatcher)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize session: %w", err)
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode initialize result: %w", err)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal initialize response: %w", err)
	}
	if err := backing.Send(ctx, b); err != nil {
		return nil, nil, fmt.Errorf("write initialize response: %w", err)
	}
	return sess, dispatcher, nil
}

func (s *Server) readLoop(ctx context.Context, backing *StdioBacking, sess sessions.Session, userID string) error {
	for {
		line, err := backing.Recv(ctx)
		if err != nil {
			return err
		}
		frame, classifyErr := jsonrpc.Classify(line)
		if classifyErr != nil {
			s.log.WarnContext(ctx, "transport.stdio.frame.invalid", slog.String("err", classifyErr.Error()))
			continue
		}
		if frame == jsonrpc.FrameBatch {
			batch, err := jsonrpc.DecodeBatch(line)
			if err != nil {
				s.log.WarnContext(ctx, "transport.stdio.batch.invalid", slog.String("err", err.Error()))
				continue
			}
			for i := range batch {
				s.dispatch(ctx, backing, sess, &batch[i])
			}
			continue
		}
		if fastReq, ok := jsonrpc.FastDecodeNotification(line); ok {
			s.dispatch(ctx, backing, sess, &jsonrpc.AnyMessage{
				JSONRPCVersion: fastReq.JSONRPCVersion,
				Method:         fastReq.Method,
				Params:         fastReq.Params,
			})
			continue
		}
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.WarnContext(ctx, "transport.stdio.message.invalid", slog.String("err", err.Error()))
			continue
		}
		s.dispatch(ctx, backing, sess, &msg)
	}
}

func (s *Server) dispatch(ctx context.Context, backing *StdioBacking, sess sessions.Session, msg *jsonrpc.AnyMessage) {
	switch msg.Type() {
	case "response":
		resp := msg.AsResponse()
		s.dispatcher.OnResponse(resp)
	case "notification":
		req := msg.AsRequest()
		s.dispatcher.OnNotification(*msg)
		go func() {
			if err := s.eng.HandleNotification(ctx, sess, req); err != nil {
				s.log.ErrorContext(ctx, "transport.stdio.notification.fail", slog.String("method", req.Method), slog.String("err", err.Error()))
			}
		}()
	case "request":
		req := msg.AsRequest()
		reqCtx, cancel := context.WithCancel(ctx)
		key := req.ID.String()
		s.inFlightMu.Lock()
		s.inFlight[key] = cancel
		s.inFlightMu.Unlock()
		go func() {
			defer func() {
				s.inFlightMu.Lock()
				delete(s.inFlight, key)
				s.inFlightMu.Unlock()
				cancel()
			}()
			resp, err := s.handle(reqCtx, sess, req)
			if err != nil {
				resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
			}
			b, err := json.Marshal(resp)
			if err != nil {
				s.log.ErrorContext(ctx, "transport.stdio.response.marshal.fail", slog.String("err", err.Error()))
				return
			}
			if err := backing.Send(ctx, b); err != nil {
				s.log.ErrorContext(ctx, "transport.stdio.response.write.fail", slog.String("err", err.Error()))
			}
		}()
	}
}

// pingLoop periodically sends a server-initiated "ping" to the peer over
// dispatcher and records the outcome on backing's PingTracker, so
// backing.Health() reflects real round-trip liveness rather than merely
// whether the local read/write calls are erroring.
func (s *Server) pingLoop(ctx context.Context, backing *StdioBacking, dispatcher *outbound.Dispatcher) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.pingInterval/2)
			_, err := dispatcher.Call(pingCtx, string(mcp.PingMethod), nil)
			cancel()
			if err != nil {
				backing.pt.RecordMiss()
				s.log.WarnContext(ctx, "transport.stdio.ping.miss", slog.String("err", err.Error()), slog.String("health", backing.Health().String()))
				continue
			}
			backing.pt.RecordSuccess()
		}
	}
}

// shutdown drains in-flight requests for up to drainTimeout, cancelling
// whatever remains afterward, then moves the session through
// ShuttingDown -> Terminated.
func (s *Server) shutdown(ctx context.Context, sess sessions.Session) {
	_ = s.eng.BeginShutdown(ctx, sess)

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		s.inFlightMu.Lock()
		n := len(s.inFlight)
		s.inFlightMu.Unlock()
		if n == 0 {
			break drain
		}
		select {
		case <-deadline:
			break drain
		case <-ticker.C:
		}
	}

	s.inFlightMu.Lock()
	for id, cancel := range s.inFlight {
		s.log.WarnContext(ctx, "transport.stdio.shutdown.cancel", slog.String("id", id))
		cancel()
	}
	s.inFlightMu.Unlock()

	_ = s.eng.TerminateSession(ctx, sess)
}
