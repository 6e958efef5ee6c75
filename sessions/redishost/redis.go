package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gomcp/corekit/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for Redis-backed sessions.Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

// Host is a Redis-backed sessions.Host: metadata lives in string keys as
// JSON, the ordered client-visible log uses Redis Streams, and internal
// coordination events use Redis Pub/Sub.
type Host struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

// --- Key helpers ---

func (h *Host) metaKey(sessionID string) string   { return h.keyPrefix + "meta:" + sessionID }
func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }
func (h *Host) eventChannel(sessionID, topic string) string {
	return h.keyPrefix + "events:" + sessionID + ":" + topic
}

// --- Metadata CRUD ---

func (h *Host) CreateSession(ctx context.Context, meta sessions.SessionMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	ok, err := h.client.SetNX(ctx, h.metaKey(meta.SessionID), b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (sessions.SessionMetadata, error) {
	b, err := h.client.Get(ctx, h.metaKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessions.SessionMetadata{}, sessions.ErrSessionNotFound
		}
		return sessions.SessionMetadata{}, err
	}
	var meta sessions.SessionMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return sessions.SessionMetadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

var mutateScript = redis.NewScript(`
local key = KEYS[1]
local newval = ARGV[1]
if redis.call('EXISTS', key) == 0 then
  return nil
end
redis.call('SET', key, newval, 'KEEPTTL')
return newval
`)

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn sessions.MutateFunc) (sessions.SessionMetadata, error) {
	// Optimistic read-modify-write; a WATCH/MULTI transaction would remove the
	// (rare) race with a concurrent mutation, but the session manager only
	// mutates a given session serially in practice (revoke-on-delete).
	meta, err := h.GetSession(ctx, sessionID)
	if err != nil {
		return sessions.SessionMetadata{}, err
	}
	if err := fn(&meta); err != nil {
		return sessions.SessionMetadata{}, err
	}
	meta.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(meta)
	if err != nil {
		return sessions.SessionMetadata{}, fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := mutateScript.Run(ctx, h.client, []string{h.metaKey(sessionID)}, b).Result()
	if err != nil {
		return sessions.SessionMetadata{}, err
	}
	if res == nil {
		return sessions.SessionMetadata{}, sessions.ErrSessionNotFound
	}
	return meta, nil
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	_, err := h.MutateSession(ctx, sessionID, func(m *sessions.SessionMetadata) error {
		m.LastAccess = time.Now().UTC()
		return nil
	})
	return err
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := h.MutateSession(ctx, sessionID, func(m *sessions.SessionMetadata) error {
		m.Revoked = true
		return nil
	}); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		return err
	}
	if err := h.client.Expire(ctx, h.metaKey(sessionID), 24*time.Hour).Err(); err != nil {
		return err
	}
	return h.CleanupSession(ctx, sessionID)
}

// --- Messaging via Redis Streams ---

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	id, err := h.client.XAdd(ctx, &redis.XAddArgs{Stream: h.streamKey(sessionID), Values: map[string]interface{}{"d": data}}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunction) error {
	key := h.streamKey(sessionID)
	start := lastEventID
	if start == "" {
		start = "$"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{Streams: []string{key, start}, Count: 10, Block: 500 * time.Millisecond}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = fmt.Appendf(nil, "%v", v)
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	return h.client.Del(c, h.streamKey(sessionID)).Err()
}

// --- Internal event topics via Pub/Sub ---

func (h *Host) PublishEvent(ctx context.Context, sessionID, topic string, payload []byte) error {
	return h.client.Publish(ctx, h.eventChannel(sessionID, topic), payload).Err()
}

func (h *Host) SubscribeEvents(ctx context.Context, sessionID, topic string, handler sessions.EventHandlerFunction) (func(), error) {
	ps := h.client.Subscribe(ctx, h.eventChannel(sessionID, topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(ctx, []byte(msg.Payload))
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return unsubscribe, nil
}

// Ensure interface compliance.
var _ sessions.Host = (*Host)(nil)
