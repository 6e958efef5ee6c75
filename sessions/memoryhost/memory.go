package memoryhost

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomcp/corekit/sessions"
)

// Host is an in-memory implementation of sessions.Host.
type Host struct {
	mu       sync.RWMutex
	metas    map[string]sessions.SessionMetadata
	streams  map[string]*stream
	events   map[string]map[*eventSub]struct{}
	eventsMu sync.RWMutex
	counter  atomic.Int64
}

type stream struct {
	mu          sync.RWMutex
	messages    []message
	subscribers map[*subscription]struct{}
}

type message struct {
	id   string
	data []byte
}

type subscription struct {
	ctx      context.Context
	handler  sessions.MessageHandlerFunction
	startIdx int
	stopCh   chan struct{}
	errCh    chan error
	st       *stream
}

type eventSub struct {
	handler sessions.EventHandlerFunction
}

// New constructs an empty in-memory host.
func New() *Host {
	return &Host{
		metas:   make(map[string]sessions.SessionMetadata),
		streams: make(map[string]*stream),
		events:  make(map[string]map[*eventSub]struct{}),
	}
}

// --- Metadata CRUD ---

func (h *Host) CreateSession(ctx context.Context, meta sessions.SessionMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.metas[meta.SessionID]; ok {
		return sessions.ErrSessionExists
	}
	h.metas[meta.SessionID] = meta
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (sessions.SessionMetadata, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return sessions.SessionMetadata{}, sessions.ErrSessionNotFound
	}
	return m, nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn sessions.MutateFunc) (sessions.SessionMetadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return sessions.SessionMetadata{}, sessions.ErrSessionNotFound
	}
	if err := fn(&m); err != nil {
		return sessions.SessionMetadata{}, err
	}
	m.UpdatedAt = time.Now().UTC()
	h.metas[sessionID] = m
	return m, nil
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[sessionID]
	if !ok {
		return sessions.ErrSessionNotFound
	}
	m.LastAccess = time.Now().UTC()
	h.metas[sessionID] = m
	return nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	m, ok := h.metas[sessionID]
	if ok {
		m.Revoked = true
		m.UpdatedAt = time.Now().UTC()
		h.metas[sessionID] = m
	}
	h.mu.Unlock()
	return h.CleanupSession(ctx, sessionID)
}

// --- Ordered messaging ---

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	evID := strconv.FormatInt(h.counter.Add(1), 10)
	msg := message{id: evID, data: append([]byte(nil), data...)}

	st := h.ensureStream(sessionID)

	st.mu.Lock()
	st.messages = append(st.messages, msg)
	idx := len(st.messages) - 1
	subs := make([]*subscription, 0, len(st.subscribers))
	for sub := range st.subscribers {
		if idx >= sub.startIdx {
			subs = append(subs, sub)
		}
	}
	st.mu.Unlock()

	for _, sub := range subs {
		s := sub
		select {
		case <-s.ctx.Done():
			continue
		case <-s.stopCh:
			continue
		default:
		}
		go func() {
			if err := s.handler(s.ctx, msg.id, msg.data); err != nil {
				select {
				case s.errCh <- err:
				default:
				}
			}
		}()
	}

	return evID, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	st := h.ensureStream(sessionID)

	var startIdx int
	st.mu.RLock()
	if lastEventID == "" {
		startIdx = len(st.messages)
	} else {
		found := false
		for i := range st.messages {
			if st.messages[i].id == lastEventID {
				startIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			startIdx = len(st.messages)
		}
	}
	st.mu.RUnlock()

	sub := &subscription{ctx: ctx, handler: handler, startIdx: startIdx, stopCh: make(chan struct{}), errCh: make(chan error, 1), st: st}

	st.mu.Lock()
	st.subscribers[sub] = struct{}{}
	var replay []message
	if startIdx < len(st.messages) {
		replay = make([]message, len(st.messages)-startIdx)
		copy(replay, st.messages[startIdx:])
	}
	st.mu.Unlock()

	defer sub.stop()

	for _, m := range replay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.stopCh:
			return nil
		case err := <-sub.errCh:
			return err
		default:
		}
		if err := handler(ctx, m.id, m.data); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.stopCh:
			return nil
		case err := <-sub.errCh:
			return err
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	st, ok := h.streams[sessionID]
	if ok {
		delete(h.streams, sessionID)
	}
	h.mu.Unlock()
	if ok {
		st.mu.Lock()
		subs := make([]*subscription, 0, len(st.subscribers))
		for sub := range st.subscribers {
			subs = append(subs, sub)
		}
		st.mu.Unlock()
		for _, sub := range subs {
			sub.stop()
		}
	}

	h.eventsMu.Lock()
	prefix := sessionID + "|"
	for key := range h.events {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(h.events, key)
		}
	}
	h.eventsMu.Unlock()

	return nil
}

func (h *Host) ensureStream(sessionID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[sessionID]
	if !ok {
		st = &stream{messages: make([]message, 0), subscribers: make(map[*subscription]struct{})}
		h.streams[sessionID] = st
	}
	return st
}

func (s *subscription) stop() {
	s.st.mu.Lock()
	delete(s.st.subscribers, s)
	s.st.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// --- Internal event topics ---

func (h *Host) PublishEvent(ctx context.Context, sessionID, topic string, payload []byte) error {
	key := sessionID + "|" + topic
	h.eventsMu.RLock()
	subs := make([]*eventSub, 0, len(h.events[key]))
	for s := range h.events[key] {
		subs = append(subs, s)
	}
	h.eventsMu.RUnlock()

	data := append([]byte(nil), payload...)
	for _, s := range subs {
		go func(s *eventSub) { _ = s.handler(ctx, data) }(s)
	}
	return nil
}

func (h *Host) SubscribeEvents(ctx context.Context, sessionID, topic string, handler sessions.EventHandlerFunction) (func(), error) {
	key := sessionID + "|" + topic
	sub := &eventSub{handler: handler}

	h.eventsMu.Lock()
	if h.events[key] == nil {
		h.events[key] = make(map[*eventSub]struct{})
	}
	h.events[key][sub] = struct{}{}
	h.eventsMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.eventsMu.Lock()
			delete(h.events[key], sub)
			h.eventsMu.Unlock()
		})
	}
	return unsubscribe, nil
}

// Ensure interface compliance.
var _ sessions.Host = (*Host)(nil)
