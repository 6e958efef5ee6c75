package sessions

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gomcp/corekit/internal/outbound"
)

var _ Session = (*session)(nil)
var _ SessionData = (*session)(nil)

// session is the concrete Session implementation returned by Manager. Its
// capability accessors are populated by SessionOption at creation time and
// route through an outbound.Dispatcher for server-initiated requests to the
// client (sampling/createMessage, roots/list, elicitation/create).
type session struct {
	id              string
	userID          string
	protocolVersion string
	host            Host

	dispatcher *outbound.Dispatcher

	sampling    SamplingCapability
	roots       RootsCapability
	elicitation ElicitationCapability

	dataMu sync.RWMutex
	data   map[string][]byte

	state atomic.Value // State
}

// State reports the session's current lifecycle position.
func (s *session) State() State {
	v, _ := s.state.Load().(State)
	if v == "" {
		return StateInitializing
	}
	return v
}

// setState records a lifecycle transition in memory. Callers that need the
// transition visible to other processes must also persist it via the Host
// (see Manager.MarkReady, Manager.BeginShutdown, Manager.Terminate).
func (s *session) setState(st State) {
	s.state.Store(st)
}

// PutData stores value under key for the lifetime of this session object.
func (s *session) PutData(ctx context.Context, key string, value []byte) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	cp := append([]byte(nil), value...)
	s.data[key] = cp
	return nil
}

// GetData retrieves the value previously stored under key, if any.
func (s *session) GetData(ctx context.Context, key string) ([]byte, bool, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// DeleteData removes the value stored under key, if any.
func (s *session) DeleteData(ctx context.Context, key string) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *session) SessionID() string       { return s.id }
func (s *session) UserID() string          { return s.userID }
func (s *session) ProtocolVersion() string { return s.protocolVersion }

// ConsumeMessages streams the session's ordered client-visible message log
// starting after lastEventID.
func (s *session) ConsumeMessages(ctx context.Context, lastEventID string, handleMsgFn MessageHandlerFunction) error {
	return s.host.SubscribeSession(ctx, s.id, lastEventID, handleMsgFn)
}

// WriteMessage appends a message to the session's ordered client-visible log.
func (s *session) WriteMessage(ctx context.Context, msg []byte) error {
	_, err := s.host.PublishSession(ctx, s.id, msg)
	return err
}

func (s *session) GetSamplingCapability() (SamplingCapability, bool) {
	if s.sampling == nil {
		return nil, false
	}
	return s.sampling, true
}

func (s *session) GetRootsCapability() (RootsCapability, bool) {
	if s.roots == nil {
		return nil, false
	}
	return s.roots, true
}

func (s *session) GetElicitationCapability() (ElicitationCapability, bool) {
	if s.elicitation == nil {
		return nil, false
	}
	return s.elicitation, true
}
