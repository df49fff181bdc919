package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// ProgressStore is an in-memory implementation of app.ProgressStore.
type ProgressStore struct {
	bus *Notifier
	now func() time.Time

	mu      sync.RWMutex
	records map[string]map[string]domain.ProgressRecord
}

func NewProgressStore(bus *Notifier, opts ...Option) *ProgressStore {
	return &ProgressStore{
		bus:     bus,
		now:     applyOptions(opts).now,
		records: make(map[string]map[string]domain.ProgressRecord),
	}
}

func (s *ProgressStore) InsertProgress(_ context.Context, rec domain.ProgressRecord) (domain.ProgressRecord, error) {
	if rec.Answers == nil {
		rec.Answers = []domain.Answer{}
	}
	rec.Version = 1
	rec.UpdatedAt = s.now()
	if err := domain.ValidateProgress(rec); err != nil {
		return domain.ProgressRecord{}, err
	}

	s.mu.Lock()
	bySession, ok := s.records[rec.SessionID]
	if !ok {
		bySession = make(map[string]domain.ProgressRecord)
		s.records[rec.SessionID] = bySession
	}
	if _, exists := bySession[rec.ID]; exists {
		s.mu.Unlock()
		return domain.ProgressRecord{}, fmt.Errorf("%w: record %s already exists", domain.ErrSubmissionConflict, rec.ID)
	}
	bySession[rec.ID] = cloneRecord(rec)
	s.mu.Unlock()

	s.bus.publish(progressTopic(rec.SessionID), domain.ProgressEvent{Kind: domain.EventInsert, Record: rec})
	return cloneRecord(rec), nil
}

func (s *ProgressStore) GetProgress(_ context.Context, sessionID, id string) (domain.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID][id]
	if !ok {
		return domain.ProgressRecord{}, domain.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *ProgressStore) ListProgress(_ context.Context, sessionID string) ([]domain.ProgressRecord, error) {
	s.mu.RLock()
	out := make([]domain.ProgressRecord, 0, len(s.records[sessionID]))
	for _, rec := range s.records[sessionID] {
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *ProgressStore) UpdateProgress(_ context.Context, sessionID, id string, mutate func(*domain.ProgressRecord) error) (domain.ProgressRecord, error) {
	s.mu.Lock()
	current, ok := s.records[sessionID][id]
	if !ok {
		s.mu.Unlock()
		return domain.ProgressRecord{}, domain.ErrRecordNotFound
	}
	next := cloneRecord(current)
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		if errors.Is(err, domain.ErrNoChange) {
			return cloneRecord(current), nil
		}
		return domain.ProgressRecord{}, err
	}
	next.ID, next.SessionID, next.JoinedAt = current.ID, current.SessionID, current.JoinedAt
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	if err := domain.ValidateProgress(next); err != nil {
		s.mu.Unlock()
		return domain.ProgressRecord{}, err
	}
	s.records[sessionID][id] = next
	s.mu.Unlock()

	s.bus.publish(progressTopic(sessionID), domain.ProgressEvent{Kind: domain.EventUpdate, Record: next})
	return cloneRecord(next), nil
}

func (s *ProgressStore) DeleteProgress(_ context.Context, sessionID string) ([]domain.ProgressRecord, error) {
	s.mu.Lock()
	bySession := s.records[sessionID]
	delete(s.records, sessionID)
	s.mu.Unlock()

	deleted := make([]domain.ProgressRecord, 0, len(bySession))
	for _, rec := range bySession {
		deleted = append(deleted, rec)
		s.bus.publish(progressTopic(sessionID), domain.ProgressEvent{Kind: domain.EventDelete, Record: rec})
	}
	return deleted, nil
}

func (s *ProgressStore) SubscribeProgress(ctx context.Context, sessionID string) (<-chan domain.ProgressEvent, error) {
	return subscribe[domain.ProgressEvent](ctx, s.bus, progressTopic(sessionID))
}

func cloneRecord(r domain.ProgressRecord) domain.ProgressRecord {
	out := r
	out.Answers = append([]domain.Answer{}, r.Answers...)
	if r.TotalTimeTakenSeconds != nil {
		total := *r.TotalTimeTakenSeconds
		out.TotalTimeTakenSeconds = &total
	}
	return out
}
