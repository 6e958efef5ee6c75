package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/gomcp/corekit/internal/outbound"
	"github.com/google/uuid"
)

// DefaultTTL is the sliding idle timeout applied to sessions created without
// an explicit WithTTL option.
const DefaultTTL = 30 * time.Minute

// Manager creates and loads sessions backed by a Host.
type Manager interface {
	// CreateSession allocates a new session id, persists its metadata, and
	// returns a Session view wired with the requested capabilities.
	CreateSession(ctx context.Context, userID string, opts ...ManagerOption) (Session, error)
	// LoadSession fetches an existing session's metadata and returns a
	// Session view, or ErrSessionNotFound / ErrSessionRevoked.
	LoadSession(ctx context.Context, sessionID string, opts ...ManagerOption) (Session, error)
	// DeleteSession revokes and cleans up a session.
	DeleteSession(ctx context.Context, sessionID string) error
	// ExtendSessionTTL replaces the sliding idle timeout on an existing
	// session, without altering its lifecycle state.
	ExtendSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error
	// MarkReady transitions sess from Initializing to Ready and extends its
	// TTL past the handshake window, once the client confirms
	// notifications/initialized.
	MarkReady(ctx context.Context, sess Session, ttl time.Duration) error
	// BeginShutdown transitions sess to ShuttingDown: new inbound requests
	// other than in-flight completions should stop being accepted by the
	// transport once this returns.
	BeginShutdown(ctx context.Context, sess Session) error
	// Terminate transitions sess to Terminated and deletes it, once its
	// shutdown drain window has elapsed.
	Terminate(ctx context.Context, sess Session) error
	// IssueTicket mints a signed ticket binding sess's ID to this Manager's
	// ticket signer, for transports that need to hand clients something
	// less forgeable than a bare session ID. Returns an error if no
	// TicketSigner was configured via WithTicketSigner.
	IssueTicket(ctx context.Context, sess Session) (string, error)
	// LoadSessionByTicket verifies ticket with this Manager's TicketSigner
	// and, if valid, behaves like LoadSession for the session ID it names.
	// Returns an error if no TicketSigner was configured.
	LoadSessionByTicket(ctx context.Context, ticket string, opts ...ManagerOption) (Session, error)
}

// ManagerBuildOption configures a Manager at construction, as opposed to
// ManagerOption which configures a single CreateSession/LoadSession call.
type ManagerBuildOption func(*manager)

// WithTicketSigner attaches a TicketSigner so the Manager can mint and
// verify signed session tickets via IssueTicket/LoadSessionByTicket.
func WithTicketSigner(signer TicketSigner) ManagerBuildOption {
	return func(m *manager) { m.ticketSigner = signer }
}

// ManagerOption configures a single CreateSession/LoadSession call.
type ManagerOption func(*managerCallConfig)

type managerCallConfig struct {
	protocolVersion string
	client          MetadataClientInfo
	ttl             time.Duration
	maxLifetime     time.Duration
	sessionOpts     []SessionOption
	dispatcher      *outbound.Dispatcher
}

// WithProtocolVersion records the negotiated MCP protocol version on the
// session's metadata. Only meaningful on CreateSession.
func WithProtocolVersion(v string) ManagerOption {
	return func(c *managerCallConfig) { c.protocolVersion = v }
}

// WithClientInfo records the connecting client's self-reported identity.
// Only meaningful on CreateSession.
func WithClientInfo(info MetadataClientInfo) ManagerOption {
	return func(c *managerCallConfig) { c.client = info }
}

// WithTTL overrides the default sliding idle timeout. Only meaningful on
// CreateSession.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(c *managerCallConfig) { c.ttl = ttl }
}

// WithMaxLifetime bounds the absolute session lifetime regardless of
// activity. Only meaningful on CreateSession.
func WithMaxLifetime(d time.Duration) ManagerOption {
	return func(c *managerCallConfig) { c.maxLifetime = d }
}

// WithCapabilities enables the given capability surfaces on the returned
// Session view for both CreateSession and LoadSession.
func WithCapabilities(opts ...SessionOption) ManagerOption {
	return func(c *managerCallConfig) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// WithDispatcher attaches the outbound dispatcher used by capability
// implementations to reach the connected client.
func WithDispatcher(d *outbound.Dispatcher) ManagerOption {
	return func(c *managerCallConfig) { c.dispatcher = d }
}

var _ Manager = (*manager)(nil)

type manager struct {
	host         Host
	ticketSigner TicketSigner
}

// NewManager constructs a Manager backed by host.
func NewManager(host Host, opts ...ManagerBuildOption) Manager {
	m := &manager{host: host}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *manager) CreateSession(ctx context.Context, userID string, opts ...ManagerOption) (Session, error) {
	var cfg managerCallConfig
	cfg.ttl = DefaultTTL
	for _, o := range opts {
		o(&cfg)
	}

	caps := CapabilitySet{}
	for _, so := range cfg.sessionOpts {
		s := &session{}
		so(s)
		if s.sampling != nil {
			caps.Sampling = true
		}
		if s.roots != nil {
			caps.Roots = true
		}
		if s.elicitation != nil {
			caps.Elicitation = true
		}
	}

	now := time.Now().UTC()
	meta := SessionMetadata{
		MetaVersion:     1,
		SessionID:       uuid.NewString(),
		UserID:          userID,
		ProtocolVersion: cfg.protocolVersion,
		Client:          cfg.client,
		Capabilities:    caps,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastAccess:      now,
		TTL:             cfg.ttl,
		MaxLifetime:     cfg.maxLifetime,
		State:           StateInitializing,
	}

	if err := m.host.CreateSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return m.build(meta, cfg), nil
}

func (m *manager) LoadSession(ctx context.Context, sessionID string, opts ...ManagerOption) (Session, error) {
	var cfg managerCallConfig
	for _, o := range opts {
		o(&cfg)
	}

	meta, err := m.host.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if meta.Revoked {
		return nil, ErrSessionRevoked
	}
	if meta.Expired(time.Now().UTC()) {
		return nil, ErrSessionNotFound
	}

	if err := m.host.TouchSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	// A session persisted before this field existed, or one that never
	// recorded a state, is by construction one that already completed its
	// handshake in a prior process: it can only be loaded because it was
	// created and TTL-extended past the handshake window already.
	if meta.State == "" {
		meta.State = StateReady
	}

	return m.build(meta, cfg), nil
}

func (m *manager) ExtendSessionTTL(ctx context.Context, sessionID string, ttl time.Duration) error {
	_, err := m.host.MutateSession(ctx, sessionID, func(meta *SessionMetadata) error {
		meta.TTL = ttl
		return nil
	})
	if err != nil {
		return fmt.Errorf("extend session ttl: %w", err)
	}
	return nil
}

func (m *manager) MarkReady(ctx context.Context, sess Session, ttl time.Duration) error {
	s, ok := sess.(*session)
	if !ok {
		return fmt.Errorf("mark session ready: unsupported session implementation")
	}
	if _, err := m.host.MutateSession(ctx, s.id, func(meta *SessionMetadata) error {
		meta.State = StateReady
		meta.TTL = ttl
		return nil
	}); err != nil {
		return fmt.Errorf("mark session ready: %w", err)
	}
	s.setState(StateReady)
	return nil
}

func (m *manager) BeginShutdown(ctx context.Context, sess Session) error {
	s, ok := sess.(*session)
	if !ok {
		return fmt.Errorf("begin session shutdown: unsupported session implementation")
	}
	if _, err := m.host.MutateSession(ctx, s.id, func(meta *SessionMetadata) error {
		meta.State = StateShuttingDown
		return nil
	}); err != nil {
		return fmt.Errorf("begin session shutdown: %w", err)
	}
	s.setState(StateShuttingDown)
	return nil
}

func (m *manager) Terminate(ctx context.Context, sess Session) error {
	s, ok := sess.(*session)
	if !ok {
		return fmt.Errorf("terminate session: unsupported session implementation")
	}
	s.setState(StateTerminated)
	if err := m.host.DeleteSession(ctx, s.id); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

func (m *manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.host.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *manager) IssueTicket(ctx context.Context, sess Session) (string, error) {
	if m.ticketSigner == nil {
		return "", fmt.Errorf("issue ticket: no ticket signer configured")
	}
	ticket, err := m.ticketSigner.Sign(sess.SessionID())
	if err != nil {
		return "", fmt.Errorf("issue ticket: %w", err)
	}
	return ticket, nil
}

func (m *manager) LoadSessionByTicket(ctx context.Context, ticket string, opts ...ManagerOption) (Session, error) {
	if m.ticketSigner == nil {
		return nil, fmt.Errorf("load session by ticket: no ticket signer configured")
	}
	sessionID, err := m.ticketSigner.Verify(ticket)
	if err != nil {
		return nil, fmt.Errorf("load session by ticket: %w", err)
	}
	return m.LoadSession(ctx, sessionID, opts...)
}

func (m *manager) build(meta SessionMetadata, cfg managerCallConfig) Session {
	s := &session{
		id:              meta.SessionID,
		userID:          meta.UserID,
		protocolVersion: meta.ProtocolVersion,
		host:            m.host,
		dispatcher:      cfg.dispatcher,
	}
	st := meta.State
	if st == "" {
		st = StateInitializing
	}
	s.setState(st)
	for _, so := range cfg.sessionOpts {
		so(s)
	}
	return s
}
