package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gomcp/corekit/mcp"
)

// SessionOption is a functional option for configuring a session created by
// Manager.CreateSession. Options enable capability surfaces that route
// server-initiated requests to the connected client.
type SessionOption func(*session)

// WithSamplingCapability enables sampling/createMessage on the session.
func WithSamplingCapability() SessionOption {
	return func(s *session) {
		s.sampling = &samplingCapabilityImpl{sess: s}
	}
}

// WithRootsCapability enables roots/list, and roots/list_changed
// notifications if supportsListChanged is true.
func WithRootsCapability(supportsListChanged bool) SessionOption {
	return func(s *session) {
		s.roots = &rootsCapabilityImpl{sess: s, supportsListChanged: supportsListChanged}
	}
}

// WithElicitationCapability enables elicitation/create on the session.
func WithElicitationCapability() SessionOption {
	return func(s *session) {
		s.elicitation = &elicitationCapabilityImpl{sess: s}
	}
}

func callAndDecode(ctx context.Context, s *session, method string, params, result any) error {
	if s.dispatcher == nil {
		return fmt.Errorf("session %s: no outbound dispatcher attached", s.id)
	}
	resp, err := s.dispatcher.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

type samplingCapabilityImpl struct {
	sess *session
}

func (s *samplingCapabilityImpl) CreateMessage(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	var result mcp.CreateMessageResult
	if err := callAndDecode(ctx, s.sess, string(mcp.SamplingCreateMessageMethod), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type rootsCapabilityImpl struct {
	sess                *session
	supportsListChanged bool
}

func (r *rootsCapabilityImpl) ListRoots(ctx context.Context) (*mcp.ListRootsResult, error) {
	var result mcp.ListRootsResult
	if err := callAndDecode(ctx, r.sess, string(mcp.RootsListMethod), mcp.ListRootsRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterRootsListChangedListener subscribes to the session's
// notifications/roots/list_changed coordination topic, which the inbound
// dispatcher publishes to the host whenever the client sends that
// notification. Returns supported=false without error if the session's
// capabilities never advertised list_changed support.
func (r *rootsCapabilityImpl) RegisterRootsListChangedListener(ctx context.Context, listener RootsListChangedListener) (supported bool, err error) {
	if !r.supportsListChanged {
		return false, nil
	}

	unsubscribe, err := r.sess.host.SubscribeEvents(ctx, r.sess.id, string(mcp.RootsListChangedNotificationMethod), func(ctx context.Context, payload []byte) error {
		return listener(ctx)
	})
	if err != nil {
		return false, err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return true, nil
}

type elicitationCapabilityImpl struct {
	sess *session
}

func (e *elicitationCapabilityImpl) Elicit(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	var result mcp.ElicitResult
	if err := callAndDecode(ctx, e.sess, "elicitation/create", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
