package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressStore keeps one JSON value per ProgressRecord plus a per-session id set.
//
//	{prefix}:progress:{sid}:{id}     record JSON
//	{prefix}:progress:{sid}:ids      set of record ids
//	{prefix}:events:progress:{sid}   change feed
type ProgressStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewProgressStore(client *redis.Client, opts Options) *ProgressStore {
	opts = opts.withDefaults()
	return &ProgressStore{
		client: client,
		keys:   keyspace(opts.Prefix),
		ttl:    opts.TTL,
		logger: opts.Logger,
		now:    time.Now,
	}
}

func (s *ProgressStore) InsertProgress(ctx context.Context, rec domain.ProgressRecord) (domain.ProgressRecord, error) {
	if rec.Answers == nil {
		rec.Answers = []domain.Answer{}
	}
	rec.Version = 1
	rec.UpdatedAt = s.now()
	if err := domain.ValidateProgress(rec); err != nil {
		return domain.ProgressRecord{}, err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return domain.ProgressRecord{}, err
	}

	var created *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.keys.record(rec.SessionID, rec.ID), body, s.ttl)
		pipe.SAdd(ctx, s.keys.records(rec.SessionID), rec.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.keys.records(rec.SessionID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.ProgressRecord{}, domain.NewPersistenceError("insert progress", err)
	}
	if !created.Val() {
		return domain.ProgressRecord{}, fmt.Errorf("%w: record %s already exists", domain.ErrSubmissionConflict, rec.ID)
	}

	publishEvent(s.client, s.logger, s.keys.progressFeed(rec.SessionID), domain.ProgressEvent{Kind: domain.EventInsert, Record: rec})
	return rec, nil
}

func (s *ProgressStore) GetProgress(ctx context.Context, sessionID, id string) (domain.ProgressRecord, error) {
	raw, err := s.client.Get(ctx, s.keys.record(sessionID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ProgressRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.ProgressRecord{}, domain.NewPersistenceError("get progress", err)
	}
	var rec domain.ProgressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ProgressRecord{}, domain.NewPersistenceError("decode progress", err)
	}
	return rec, nil
}

func (s *ProgressStore) ListProgress(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error) {
	records, err := s.load(ctx, s.client, sessionID)
	if err != nil {
		return nil, domain.NewPersistenceError("list progress", err)
	}
	return records, nil
}

func (s *ProgressStore) UpdateProgress(ctx context.Context, sessionID, id string, mutate func(*domain.ProgressRecord) error) (domain.ProgressRecord, error) {
	rec, changed, err := updateJSON(ctx, s.client, s.keys.record(sessionID, id), s.ttl, domain.ErrRecordNotFound, func(next *domain.ProgressRecord) error {
		current := *next
		next.Answers = append([]domain.Answer{}, current.Answers...)
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.SessionID, next.JoinedAt = current.ID, current.SessionID, current.JoinedAt
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()
		return domain.ValidateProgress(*next)
	})
	if err != nil {
		return domain.ProgressRecord{}, err
	}
	if changed {
		publishEvent(s.client, s.logger, s.keys.progressFeed(sessionID), domain.ProgressEvent{Kind: domain.EventUpdate, Record: rec})
	}
	return rec, nil
}

// DeleteProgress removes every record of the session in one transaction. Inserts racing
// with the delete modify the watched id set and force a retry.
func (s *ProgressStore) DeleteProgress(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error) {
	idsKey := s.keys.records(sessionID)
	var deleted []domain.ProgressRecord
	txf := func(tx *redis.Tx) error {
		records, err := s.load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, rec := range records {
				pipe.Del(ctx, s.keys.record(sessionID, rec.ID))
			}
			pipe.Del(ctx, idsKey)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = records
		return nil
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err = s.client.Watch(ctx, txf, idsKey); !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, domain.NewPersistenceError("delete progress", err)
	}

	for _, rec := range deleted {
		publishEvent(s.client, s.logger, s.keys.progressFeed(sessionID), domain.ProgressEvent{Kind: domain.EventDelete, Record: rec})
	}
	return deleted, nil
}

func (s *ProgressStore) SubscribeProgress(ctx context.Context, sessionID string) (<-chan domain.ProgressEvent, error) {
	return subscribeFeed[domain.ProgressEvent](ctx, s.client, s.logger, s.keys.progressFeed(sessionID))
}

// recordReader is satisfied by both *redis.Client and *redis.Tx.
type recordReader interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *ProgressStore) load(ctx context.Context, c recordReader, sessionID string) ([]domain.ProgressRecord, error) {
	ids, err := c.SMembers(ctx, s.keys.records(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.ProgressRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.record(sessionID, id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]domain.ProgressRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.ProgressRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].JoinedAt.Before(records[j].JoinedAt) })
	return records, nil
}
