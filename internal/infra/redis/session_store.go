package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SessionStore keeps Session rows as JSON values and fans changes out over Redis pub/sub,
// so every API instance observes the same lifecycle.
//
//	{prefix}:session:{id}          session JSON
//	{prefix}:code:{CODE}           session id, claimed with SETNX
//	{prefix}:events:session:{id}   change feed
type SessionStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewSessionStore(client *redis.Client, opts Options) *SessionStore {
	opts = opts.withDefaults()
	return &SessionStore{
		client: client,
		keys:   keyspace(opts.Prefix),
		ttl:    opts.TTL,
		logger: opts.Logger,
		now:    time.Now,
	}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	session.AccessCode = domain.NormalizeAccessCode(session.AccessCode)
	session.Version = 1
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = s.now()
	}
	if err := domain.ValidateSession(session); err != nil {
		return domain.Session{}, err
	}
	body, err := json.Marshal(session)
	if err != nil {
		return domain.Session{}, err
	}

	claimed, err := s.client.SetNX(ctx, s.keys.code(session.AccessCode), session.ID, s.ttl).Result()
	if err != nil {
		return domain.Session{}, domain.NewPersistenceError("claim access code", err)
	}
	if !claimed {
		return domain.Session{}, domain.ErrAccessCodeTaken
	}
	if err := s.client.Set(ctx, s.keys.session(session.ID), body, s.ttl).Err(); err != nil {
		_ = s.client.Del(ctx, s.keys.code(session.AccessCode)).Err()
		return domain.Session{}, domain.NewPersistenceError("create session", err)
	}

	publishEvent(s.client, s.logger, s.keys.sessionFeed(session.ID), domain.SessionEvent{Kind: domain.EventInsert, Session: session})
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.keys.session(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, domain.NewPersistenceError("get session", err)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, domain.NewPersistenceError("decode session", err)
	}
	return session, nil
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, accessCode string) (domain.Session, error) {
	id, err := s.client.Get(ctx, s.keys.code(domain.NormalizeAccessCode(accessCode))).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, domain.NewPersistenceError("find session by code", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(ctx context.Context, id string, mutate func(*domain.Session) error) (domain.Session, error) {
	session, changed, err := updateJSON(ctx, s.client, s.keys.session(id), s.ttl, domain.ErrSessionNotFound, func(next *domain.Session) error {
		current := *next
		next.Questions = append([]domain.Question(nil), current.Questions...)
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.AccessCode, next.CreatedAt = current.ID, current.AccessCode, current.CreatedAt
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()
		return domain.ValidateSession(*next)
	})
	if err != nil {
		return domain.Session{}, err
	}
	if changed {
		if s.ttl > 0 {
			_ = s.client.Expire(ctx, s.keys.code(session.AccessCode), s.ttl).Err()
		}
		publishEvent(s.client, s.logger, s.keys.sessionFeed(id), domain.SessionEvent{Kind: domain.EventUpdate, Session: session})
	}
	return session, nil
}

func (s *SessionStore) SubscribeSession(ctx context.Context, id string) (<-chan domain.SessionEvent, error) {
	return subscribeFeed[domain.SessionEvent](ctx, s.client, s.logger, s.keys.sessionFeed(id))
}
