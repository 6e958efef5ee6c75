// Package sessionhosttest provides a black-box conformance suite that any
// sessions.Host implementation should pass, exercised by both memoryhost and
// redishost.
package sessionhosttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gomcp/corekit/jsonrpc"
	"github.com/gomcp/corekit/sessions"
)

// HostFactory creates a new sessions.Host instance for testing.
type HostFactory func(t *testing.T) sessions.Host

// RunSessionHostTests runs the complete Host test suite against the provided factory.
func RunSessionHostTests(t *testing.T, factory HostFactory) {
	t.Run("Metadata_CreateGetTouchDelete", func(t *testing.T) { testMetadataLifecycle(t, factory) })
	t.Run("Metadata_CreateDuplicateFails", func(t *testing.T) { testCreateDuplicateFails(t, factory) })
	t.Run("Metadata_MutateSession", func(t *testing.T) { testMutateSession(t, factory) })

	t.Run("Messaging_PublishAndSubscribeFromBeginning", func(t *testing.T) { testPublishAndSubscribeFromBeginning(t, factory) })
	t.Run("Messaging_PublishAndResumeFromLastEventID", func(t *testing.T) { testPublishAndSubscribeFromLastEventID(t, factory) })
	t.Run("Messaging_IsolationBetweenSessions", func(t *testing.T) { testSessionIsolation(t, factory) })
	t.Run("Messaging_SubscriptionContextCancellation", func(t *testing.T) { testSubscriptionContextCancellation(t, factory) })
	t.Run("Messaging_HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerErrorStopsSubscription(t, factory) })

	t.Run("Events_FanOutToAllSubscribers", func(t *testing.T) { testEventsFanOut(t, factory) })
	t.Run("Events_TopicIsolation", func(t *testing.T) { testEventsTopicIsolation(t, factory) })
	t.Run("Events_UnsubscribeStopsDelivery", func(t *testing.T) { testEventsUnsubscribe(t, factory) })
}

// --- Metadata tests ---

func testMetadataLifecycle(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()

	now := time.Now().UTC()
	meta := sessions.SessionMetadata{
		MetaVersion: 1,
		SessionID:   "meta-sess-1",
		UserID:      "user-1",
		CreatedAt:   now,
		UpdatedAt:   now,
		LastAccess:  now,
		TTL:         time.Hour,
	}

	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != meta.UserID {
		t.Fatalf("UserID = %q, want %q", got.UserID, meta.UserID)
	}

	time.Sleep(5 * time.Millisecond)
	if err := h.TouchSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	touched, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession after touch: %v", err)
	}
	if !touched.LastAccess.After(meta.LastAccess) {
		t.Fatalf("expected LastAccess to advance after Touch")
	}

	if err := h.DeleteSession(ctx, meta.SessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	deleted, err := h.GetSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if !deleted.Revoked {
		t.Fatalf("expected session to be revoked after DeleteSession")
	}

	if _, err := h.GetSession(ctx, "does-not-exist"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testCreateDuplicateFails(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	meta := sessions.SessionMetadata{SessionID: "dup-sess", UserID: "u"}
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}
	if err := h.CreateSession(ctx, meta); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func testMutateSession(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx := context.Background()
	meta := sessions.SessionMetadata{SessionID: "mutate-sess", UserID: "u", ProtocolVersion: "1"}
	if err := h.CreateSession(ctx, meta); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	updated, err := h.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.ProtocolVersion = "2"
		return nil
	})
	if err != nil {
		t.Fatalf("MutateSession: %v", err)
	}
	if updated.ProtocolVersion != "2" {
		t.Fatalf("ProtocolVersion = %q, want 2", updated.ProtocolVersion)
	}

	wantErr := errors.New("reject")
	if _, err := h.MutateSession(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("expected mutate function error to propagate, got %v", err)
	}
}

// --- Messaging tests ---

func testPublishAndSubscribeFromBeginning(t *testing.T, factory HostFactory) {
	h := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := "sess-1"

	req := &jsonrpc.Request{JSONRPCVersion: "2.0", Method: "test/method", ID: jsonrpc.NewRequestID(1)}
	reqBytes, _ := json.Marshal(req)

	var received []struct {
		id   string
		data []byte
	}
	var mu sync.Mutex

	done := make(chan error, 1)
	go func() {
		err := h.SubscribeSession(ctx, sessionID, "", func(ctx context.Context, msgID string, msg []byte) error {
			mu.Lock()
			received = append(received, struct {
				id   string
				data []byte
			}{msgID, msg})
			mu.Unlock()
			cancel()
			return nil
		})
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)

	evID, err := h.PublishSession(ctx, sessionID, reqBytes)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if evID == "" {
		t.Fatalf("expected non-empty event id")
	}

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("subscribe returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	if received[0].id != evID {
		t.Fatalf("expected event id %s, got %s", evID, received[0].id)
	}
}

func testPublishAndSubscribeFromLastEventID(t *testing.T, factory HostFactory) {
	h := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := "sess-2"

	r1 := &jsonrpc.Request{JSONRPCVersion: "2.0", Method: "test/m1", ID: jsonrpc.NewRequestID(1)}
	b1, _ := json.Marshal(r1)
	ev1, err := h.PublishSession(ctx, sessionID, b1)
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}

	r2 := &jsonrpc.Request{JSONRPCVersion: "2.0", Method: "test/m2", ID: jsonrpc.NewRequestID(2)}
	b2, _ := json.Marshal(r2)
	ev2, err := h.PublishSession(ctx, sessionID, b2)
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	var received []string
	var mu sync.Mutex
	done := make(chan error, 1)

	go func() {
		err := h.SubscribeSession(ctx, sessionID, ev1, func(ctx context.Context, msgID string, msg []byte) error {
			mu.Lock()
			received = append(received, msgID)
			mu.Unlock()
			cancel()
			return nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != ev2 {
		t.Fatalf("expected resume to deliver only %s, got %v", ev2, received)
	}
}

func testSessionIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s1, s2 := "sess-3a", "sess-3b"

	var got1, got2 int
	var mu1, mu2 sync.Mutex

	d1 := make(chan error, 1)
	go func() {
		d1 <- h.SubscribeSession(ctx, s1, "", func(ctx context.Context, id string, msg []byte) error {
			mu1.Lock()
			got1++
			mu1.Unlock()
			return nil
		})
	}()

	d2 := make(chan error, 1)
	go func() {
		d2 <- h.SubscribeSession(ctx, s2, "", func(ctx context.Context, id string, msg []byte) error {
			mu2.Lock()
			got2++
			mu2.Unlock()
			return nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	if _, err := h.PublishSession(ctx, s1, []byte("a")); err != nil {
		t.Fatalf("publish s1: %v", err)
	}
	if _, err := h.PublishSession(ctx, s2, []byte("b")); err != nil {
		t.Fatalf("publish s2: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-d1
	<-d2

	mu1.Lock()
	c1 := got1
	mu1.Unlock()
	mu2.Lock()
	c2 := got2
	mu2.Unlock()
	if c1 != 1 || c2 != 1 {
		t.Fatalf("expected 1 message each, got %d and %d", c1, c2)
	}
}

func testSubscriptionContextCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, "sess-4", "", func(ctx context.Context, id string, msg []byte) error { return nil })
	}()

	select {
	case err := <-done:
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe timeout")
	}
}

func testHandlerErrorStopsSubscription(t *testing.T, factory HostFactory) {
	h := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := "sess-5"
	expectedErr := errors.New("handler error")

	done := make(chan error, 1)
	go func() {
		done <- h.SubscribeSession(ctx, sessionID, "", func(ctx context.Context, id string, msg []byte) error { return expectedErr })
	}()
	time.Sleep(100 * time.Millisecond)
	if _, err := h.PublishSession(ctx, sessionID, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, expectedErr) {
			t.Fatalf("expected handler error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe timeout")
	}
}

// --- Event tests ---

func testEventsFanOut(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sessionID, topic := "ev-sess-1", "t1"

	var mu sync.Mutex
	var got1, got2 int
	wg := make(chan struct{}, 2)

	unsub1, err := h.SubscribeEvents(ctx, sessionID, topic, func(c context.Context, p []byte) error {
		mu.Lock()
		got1++
		n := got1
		mu.Unlock()
		if n == 1 {
			wg <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	defer unsub1()

	unsub2, err := h.SubscribeEvents(ctx, sessionID, topic, func(c context.Context, p []byte) error {
		mu.Lock()
		got2++
		n := got2
		mu.Unlock()
		if n == 1 {
			wg <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	defer unsub2()

	if err := h.PublishEvent(ctx, sessionID, topic, []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-wg:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for fan-out delivery")
		}
	}
}

func testEventsTopicIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessionID := "ev-sess-2"
	got := make(chan []byte, 1)

	unsub, err := h.SubscribeEvents(ctx, sessionID, "topic-a", func(c context.Context, p []byte) error {
		got <- p
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	if err := h.PublishEvent(ctx, sessionID, "topic-b", []byte("wrong topic")); err != nil {
		t.Fatalf("publish topic-b: %v", err)
	}
	if err := h.PublishEvent(ctx, sessionID, "topic-a", []byte("right topic")); err != nil {
		t.Fatalf("publish topic-a: %v", err)
	}

	select {
	case p := <-got:
		if string(p) != "right topic" {
			t.Fatalf("expected only topic-a delivery, got %q", p)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for topic-a delivery")
	}
}

func testEventsUnsubscribe(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessionID, topic := "ev-sess-3", "t3"
	var mu sync.Mutex
	count := 0

	unsub, err := h.SubscribeEvents(ctx, sessionID, topic, func(c context.Context, p []byte) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := h.PublishEvent(ctx, sessionID, topic, []byte("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	unsub()

	if err := h.PublishEvent(ctx, sessionID, topic, []byte("2")); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", got)
	}
}
