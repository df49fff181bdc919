package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGoChannelPublisherDeliversLifecycleEvents(t *testing.T) {
	pub, err := NewPublisher(PublisherConfig{Backend: BackendGoChannel})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pub.Subscribe(ctx)
	require.NoError(t, err)

	event := domain.LifecycleEvent{
		ID:         "evt-1",
		Type:       domain.LifecycleStarted,
		SessionID:  "s1",
		Round:      2,
		LiveStatus: domain.StatusActive,
		OccurredAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishLifecycle(ctx, event))

	select {
	case msg := <-messages:
		assert.Equal(t, "evt-1", msg.UUID)
		assert.Equal(t, string(domain.LifecycleStarted), msg.Metadata.Get("event_type"))
		assert.Equal(t, "s1", msg.Metadata.Get("session_id"))
		var got domain.LifecycleEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, event, got)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatalf("lifecycle event not delivered")
	}
}

func TestAuditLogRecordsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub, err := NewPublisher(PublisherConfig{Topic: "audit-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	assert.Equal(t, "audit-test", pub.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := pub.Subscribe(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- RunAuditLog(ctx, messages, zap.New(core)) }()

	require.NoError(t, pub.PublishLifecycle(ctx, domain.LifecycleEvent{
		Type:      domain.LifecycleResultsCleared,
		SessionID: "s1",
		Deleted:   3,
	}))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("session lifecycle").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	entry := logs.FilterMessage("session lifecycle").All()[0]
	assert.Equal(t, "session.results_cleared", entry.ContextMap()["event_type"])
	assert.EqualValues(t, 3, entry.ContextMap()["deleted"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("audit log did not stop")
	}
}

func TestNewPublisherRejectsUnknownBackend(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{Backend: "nats"})
	assert.Error(t, err)
}
