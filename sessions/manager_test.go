package sessions

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testHost is a minimal in-memory Host for unit tests of Manager, kept
// independent from the memoryhost package to isolate the two.
type testHost struct {
	mu    sync.Mutex
	metas map[string]SessionMetadata
	subs  map[string][]chan []byte
}

func newTestHost() *testHost {
	return &testHost{
		metas: make(map[string]SessionMetadata),
		subs:  make(map[string][]chan []byte),
	}
}

func (h *testHost) CreateSession(ctx context.Context, meta SessionMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.metas[meta.SessionID]; ok {
		return ErrSessionExists
	}
	h.metas[meta.SessionID] = meta
	return nil
}

func (h *testHost) GetSession(ctx context.Context, sessionID string) (SessionMetadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return SessionMetadata{}, ErrSessionNotFound
	}
	return m, nil
}

func (h *testHost) MutateSession(ctx context.Context, sessionID string, fn MutateFunc) (SessionMetadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return SessionMetadata{}, ErrSessionNotFound
	}
	if err := fn(&m); err != nil {
		return SessionMetadata{}, err
	}
	m.UpdatedAt = time.Now().UTC()
	h.metas[sessionID] = m
	return m, nil
}

func (h *testHost) TouchSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	m.LastAccess = time.Now().UTC()
	h.metas[sessionID] = m
	return nil
}

func (h *testHost) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	m, ok := h.metas[sessionID]
	if ok {
		m.Revoked = true
		h.metas[sessionID] = m
	}
	h.mu.Unlock()
	return nil
}

func (h *testHost) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	return "", nil
}

func (h *testHost) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunction) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *testHost) CleanupSession(ctx context.Context, sessionID string) error {
	return nil
}

func (h *testHost) PublishEvent(ctx context.Context, sessionID, topic string, payload []byte) error {
	h.mu.Lock()
	chans := append([]chan []byte(nil), h.subs[sessionID+"|"+topic]...)
	h.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (h *testHost) SubscribeEvents(ctx context.Context, sessionID, topic string, handler EventHandlerFunction) (func(), error) {
	key := sessionID + "|" + topic
	ch := make(chan []byte, 4)
	h.mu.Lock()
	h.subs[key] = append(h.subs[key], ch)
	h.mu.Unlock()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case p := <-ch:
				_ = handler(ctx, p)
			}
		}
	}()
	return func() { close(stop) }, nil
}

func TestManagerCreateAndLoadSession(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	mgr := NewManager(host)

	sess, err := mgr.CreateSession(ctx, "user-1",
		WithProtocolVersion("2025-06-18"),
		WithClientInfo(MetadataClientInfo{Name: "test-client"}),
		WithCapabilities(WithSamplingCapability()),
	)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.UserID() != "user-1" {
		t.Fatalf("UserID = %q, want user-1", sess.UserID())
	}
	if sess.ProtocolVersion() != "2025-06-18" {
		t.Fatalf("ProtocolVersion = %q", sess.ProtocolVersion())
	}
	if _, ok := sess.GetSamplingCapability(); !ok {
		t.Fatalf("expected sampling capability to be enabled")
	}
	if _, ok := sess.GetRootsCapability(); ok {
		t.Fatalf("expected roots capability to be disabled")
	}

	loaded, err := mgr.LoadSession(ctx, sess.SessionID())
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.SessionID() != sess.SessionID() {
		t.Fatalf("loaded session id mismatch")
	}
}

func TestManagerLoadSession_NotFound(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newTestHost())

	if _, err := mgr.LoadSession(ctx, "does-not-exist"); err == nil {
		t.Fatalf("expected error loading unknown session")
	}
}

func TestManagerDeleteSession(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	mgr := NewManager(host)

	sess, err := mgr.CreateSession(ctx, "user-2")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := mgr.DeleteSession(ctx, sess.SessionID()); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := mgr.LoadSession(ctx, sess.SessionID()); err != ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked after delete, got %v", err)
	}
}

func TestManagerIssueAndLoadSessionByTicket(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	signer, err := NewMemoryTicketSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewMemoryTicketSigner: %v", err)
	}
	mgr := NewManager(host, WithTicketSigner(signer))

	sess, err := mgr.CreateSession(ctx, "user-4")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ticket, err := mgr.IssueTicket(ctx, sess)
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}

	loaded, err := mgr.LoadSessionByTicket(ctx, ticket)
	if err != nil {
		t.Fatalf("LoadSessionByTicket: %v", err)
	}
	if loaded.SessionID() != sess.SessionID() {
		t.Fatalf("loaded session id mismatch: got %q, want %q", loaded.SessionID(), sess.SessionID())
	}
}

func TestManagerLoadSessionByTicket_RejectsForgedTicket(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	signer, err := NewMemoryTicketSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewMemoryTicketSigner: %v", err)
	}
	mgr := NewManager(host, WithTicketSigner(signer))

	sess, err := mgr.CreateSession(ctx, "user-5")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	otherSigner, err := NewMemoryTicketSigner(time.Hour)
	if err != nil {
		t.Fatalf("NewMemoryTicketSigner: %v", err)
	}
	forged, err := otherSigner.Sign(sess.SessionID())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := mgr.LoadSessionByTicket(ctx, forged); err == nil {
		t.Fatal("expected an error loading a ticket signed by a different key")
	}
}

func TestManagerIssueTicket_RequiresSigner(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(newTestHost())

	sess, err := mgr.CreateSession(ctx, "user-6")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := mgr.IssueTicket(ctx, sess); err == nil {
		t.Fatal("expected an error issuing a ticket with no signer configured")
	}
	if _, err := mgr.LoadSessionByTicket(ctx, "anything"); err == nil {
		t.Fatal("expected an error loading by ticket with no signer configured")
	}
}

func TestManagerLoadSession_ExpiredTTL(t *testing.T) {
	ctx := context.Background()
	host := newTestHost()
	mgr := NewManager(host)

	sess, err := mgr.CreateSession(ctx, "user-3", WithTTL(time.Millisecond))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := mgr.LoadSession(ctx, sess.SessionID()); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound for expired session, got %v", err)
	}
}
