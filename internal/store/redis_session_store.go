package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/ussd-service/internal/domain"
)

// sessionCASScript replaces the session document only when the stored version matches
// ARGV[1] and the session is still active. Closing (ARGV[4] == "0") also drops the phone
// index entry when it still points at this session.
var sessionCASScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local current = cjson.decode(raw)
if (not current.active) or tonumber(current.version) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
if ARGV[4] == "1" then
  redis.call("PEXPIRE", KEYS[2], ARGV[3])
elseif redis.call("GET", KEYS[2]) == current.session_id then
  redis.call("DEL", KEYS[2])
end
return 1
`)

// RedisSessionStore keeps each session as a JSON document with a TTL, plus a phone index
// key pointing at the phone's active session id.
type RedisSessionStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisSessionStore {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "ussd"
	}
	return &RedisSessionStore{client: client, prefix: trimmed, timeout: timeout, now: time.Now}
}

func (s *RedisSessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

func (s *RedisSessionStore) phoneKey(phone string) string {
	return fmt.Sprintf("%s:phone:%s", s.prefix, phone)
}

// ttl keeps documents around a little past the inactivity window; Load enforces the window.
func (s *RedisSessionStore) ttl() time.Duration {
	return 2 * s.timeout
}

func (s *RedisSessionStore) Start(ctx context.Context, session *domain.Session) error {
	previousID, err := s.client.Get(ctx, s.phoneKey(session.PhoneNumber)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lookup active session: %w", err)
	}

	now := s.now()
	session.Active = true
	session.Version = 1
	session.CreatedAt = now
	session.LastActivity = now
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previousID != "" && previousID != session.SessionID {
			pipe.Del(ctx, s.sessionKey(previousID))
		}
		pipe.Set(ctx, s.sessionKey(session.SessionID), payload, s.ttl())
		pipe.Set(ctx, s.phoneKey(session.PhoneNumber), session.SessionID, s.ttl())
		return nil
	})
	return err
}

func (s *RedisSessionStore) Load(ctx context.Context, sessionID, phone string) (*domain.Session, error) {
	session, err := s.get(ctx, sessionID)
	if err == nil || !errors.Is(err, redis.Nil) {
		return session, err
	}
	if phone == "" {
		return nil, ErrSessionNotFound
	}
	indexed, err := s.client.Get(ctx, s.phoneKey(phone)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session, err = s.get(ctx, indexed)
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// get returns redis.Nil when the document is missing and ErrSessionNotFound when it is
// present but inactive or expired.
func (s *RedisSessionStore) get(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		return nil, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if !session.Active || session.ExpiredAt(s.now(), s.timeout) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *RedisSessionStore) Upsert(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, true)
}

func (s *RedisSessionStore) Close(ctx context.Context, session *domain.Session) error {
	return s.write(ctx, session, false)
}

func (s *RedisSessionStore) write(ctx context.Context, session *domain.Session, active bool) error {
	next := session.Clone()
	next.Version = session.Version + 1
	next.Active = active
	next.LastActivity = s.now()
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keepIndex := "0"
	if active {
		keepIndex = "1"
	}
	swapped, err := sessionCASScript.Run(ctx, s.client,
		[]string{s.sessionKey(session.SessionID), s.phoneKey(session.PhoneNumber)},
		session.Version, string(payload), s.ttl().Milliseconds(), keepIndex,
	).Int()
	if err != nil {
		return err
	}
	if swapped != 1 {
		return ErrSessionConflict
	}
	*session = *next
	return nil
}

func (s *RedisSessionStore) Deactivate(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.sessionKey(sessionID)).Err()
}

// SweepExpired is a no-op: key TTLs already evict idle sessions.
func (s *RedisSessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
