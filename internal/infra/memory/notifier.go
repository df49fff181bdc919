package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Notifier is the in-process change notification bus. Delivery is at-least-once per
// subscriber with no ordering guarantee between messages; consumers order by row version.
type Notifier struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{}),
		logger: logger,
	}
}

// Close stops delivery and closes every open subscription.
func (n *Notifier) Close() error {
	return n.pubsub.Close()
}

func (n *Notifier) publish(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshal change event", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := n.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		n.logger.Warn("publish change event", zap.String("topic", topic), zap.Error(err))
	}
}

func subscribe[T any](ctx context.Context, n *Notifier, topic string) (<-chan T, error) {
	messages, err := n.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	out := make(chan T, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var event T
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				n.logger.Warn("invalid change event", zap.String("topic", topic), zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Option tunes an in-memory store.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock sets the time source used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func sessionTopic(sessionID string) string {
	return "session." + sessionID
}

func progressTopic(sessionID string) string {
	return "progress." + sessionID
}
