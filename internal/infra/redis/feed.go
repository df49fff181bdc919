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

const (
	publishTimeout = 5 * time.Second
	maxTxAttempts  = 16
	feedBuffer     = 64
)

// publishEvent fans a committed change out on its channel. The write already happened, so
// failures are logged; subscribers recover by refetching when their feed closes.
func publishEvent(client *redis.Client, logger *zap.Logger, channel string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("marshal change event", zap.String("channel", channel), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := client.Publish(ctx, channel, body).Err(); err != nil {
		logger.Warn("publish change event", zap.String("channel", channel), zap.Error(err))
	}
}

// subscribeFeed confirms the subscription before returning, so nothing published after the
// call can be missed. The channel closes when ctx ends, on any receive error or when the
// reader falls behind by more than the buffer. go-redis would otherwise reconnect silently and
// drop whatever was published meanwhile, so callers must resubscribe and refetch on close.
func subscribeFeed[T any](ctx context.Context, client *redis.Client, logger *zap.Logger, channel string) (<-chan T, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, domain.NewPersistenceError("subscribe "+channel, err)
	}

	done := make(chan struct{})
	go func() {
		// Closing the pubsub unblocks ReceiveMessage.
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = pubsub.Close()
	}()

	out := make(chan T, feedBuffer)
	go func() {
		defer close(out)
		defer close(done)
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("change feed interrupted", zap.String("channel", channel), zap.Error(err))
				}
				return
			}
			var event T
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("invalid change event", zap.String("channel", channel), zap.Error(err))
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			default:
				logger.Warn("change feed subscriber too slow, closing", zap.String("channel", channel))
				return
			}
		}
	}()
	return out, nil
}

// updateJSON runs an optimistic WATCH/MULTI read-modify-write of one JSON value and retries
// when a concurrent writer wins. mutate errors come back unchanged, domain.ErrNoChange keeps the
// current value, and Redis failures become domain.PersistenceError.
func updateJSON[T any](ctx context.Context, client *redis.Client, key string, ttl time.Duration, notFound error, mutate func(*T) error) (T, bool, error) {
	var (
		result    T
		changed   bool
		rejection error
	)
	txf := func(tx *redis.Tx) error {
		rejection = nil
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			rejection = notFound
			return rejection
		}
		if err != nil {
			return err
		}
		var current T
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
		next := current
		if err := mutate(&next); err != nil {
			if errors.Is(err, domain.ErrNoChange) {
				result, changed = current, false
				return nil
			}
			rejection = err
			return rejection
		}
		body, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result, changed = next, true
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return result, changed, nil
		case rejection != nil:
			return result, false, rejection
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return result, false, domain.NewPersistenceError("update "+key, err)
		}
	}
	return result, false, domain.NewPersistenceError("update "+key, redis.TxFailedErr)
}
