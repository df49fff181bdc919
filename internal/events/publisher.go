package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

const (
	BackendGoChannel = "gochannel"
	BackendKafka     = "kafka"

	DefaultTopic = "live-quiz.lifecycle"
)

// PublisherConfig selects the broker lifecycle events are sent to.
type PublisherConfig struct {
	Backend      string
	KafkaBrokers []string
	Topic        string
	Logger       *zap.Logger
}

// Publisher sends session lifecycle events over a watermill publisher.
type Publisher struct {
	publisher message.Publisher
	// subscriber is set for the in-process backend so consumers can attach.
	subscriber message.Subscriber
	topic      string
	logger     *zap.Logger
}

// NewPublisher builds a Kafka-backed publisher or, by default, an in-process gochannel one.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	wmLogger := NewZapAdapter(logger)

	p := &Publisher{topic: topic, logger: logger}
	switch cfg.Backend {
	case BackendKafka:
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		p.publisher = pub
	case BackendGoChannel, "":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		p.publisher, p.subscriber = ch, ch
	default:
		return nil, fmt.Errorf("unknown events publisher %q", cfg.Backend)
	}
	return p, nil
}

func (p *Publisher) PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	id := event.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, body)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("session_id", event.SessionID)
	msg.Metadata.Set("timestamp", event.OccurredAt.Format(time.RFC3339))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	p.logger.Debug("lifecycle event published",
		zap.String("event_id", id),
		zap.String("event_type", string(event.Type)),
		zap.String("topic", p.topic))
	return nil
}

// Subscribe attaches to the lifecycle topic. Only the in-process backend supports it.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if p.subscriber == nil {
		return nil, fmt.Errorf("lifecycle backend does not support in-process subscribers")
	}
	return p.subscriber.Subscribe(ctx, p.topic)
}

// Close releases the underlying broker connection.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// Topic is the destination of every published event.
func (p *Publisher) Topic() string { return p.topic }
