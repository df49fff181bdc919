package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
type SessionStore struct {
	bus *Notifier
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]domain.Session
	codes    map[string]string
}

func NewSessionStore(bus *Notifier, opts ...Option) *SessionStore {
	return &SessionStore{
		bus:      bus,
		now:      applyOptions(opts).now,
		sessions: make(map[string]domain.Session),
		codes:    make(map[string]string),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	session.AccessCode = domain.NormalizeAccessCode(session.AccessCode)
	session.Version = 1
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = s.now()
	}
	if err := domain.ValidateSession(session); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	if _, taken := s.codes[session.AccessCode]; taken {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrAccessCodeTaken
	}
	s.sessions[session.ID] = cloneSession(session)
	s.codes[session.AccessCode] = session.ID
	s.mu.Unlock()

	s.bus.publish(sessionTopic(session.ID), domain.SessionEvent{Kind: domain.EventInsert, Session: session})
	return session, nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, accessCode string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[domain.NormalizeAccessCode(accessCode)]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(_ context.Context, id string, mutate func(*domain.Session) error) (domain.Session, error) {
	s.mu.Lock()
	current, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrSessionNotFound
	}
	next := cloneSession(current)
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		if errors.Is(err, domain.ErrNoChange) {
			return cloneSession(current), nil
		}
		return domain.Session{}, err
	}
	next.ID, next.AccessCode, next.CreatedAt = current.ID, current.AccessCode, current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	if err := domain.ValidateSession(next); err != nil {
		s.mu.Unlock()
		return domain.Session{}, err
	}
	s.sessions[id] = next
	s.mu.Unlock()

	s.bus.publish(sessionTopic(id), domain.SessionEvent{Kind: domain.EventUpdate, Session: next})
	return cloneSession(next), nil
}

func (s *SessionStore) SubscribeSession(ctx context.Context, id string) (<-chan domain.SessionEvent, error) {
	return subscribe[domain.SessionEvent](ctx, s.bus, sessionTopic(id))
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	if s.Questions != nil {
		out.Questions = make([]domain.Question, len(s.Questions))
		for i, q := range s.Questions {
			q.Options = append([]string(nil), q.Options...)
			out.Questions[i] = q
		}
	}
	return out
}
