package events

import (
	"context"
	"encoding/json"

	"live-quiz-service/internal/domain"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// RunAuditLog writes every lifecycle event on messages to the log until the stream closes
// or ctx ends.
func RunAuditLog(ctx context.Context, messages <-chan *message.Message, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.LifecycleEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Warn("undecodable lifecycle event", zap.String("message_id", msg.UUID), zap.Error(err))
				msg.Ack()
				continue
			}
			logger.Info("session lifecycle",
				zap.String("event_type", string(event.Type)),
				zap.String("session_id", event.SessionID),
				zap.Int("round", event.Round),
				zap.String("live_status", string(event.LiveStatus)),
				zap.Int("deleted", event.Deleted))
			msg.Ack()
		}
	}
}
