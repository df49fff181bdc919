package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionsOpenRoundsOnWaiting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)
	require.Equal(t, domain.StatusIdle, session.LiveStatus)
	require.Equal(t, 0, session.Round)

	steps := []struct {
		cmd     Command
		status  domain.LiveStatus
		round   int
		enabled bool
	}{
		{CommandEnableLive, domain.StatusWaiting, 1, true},
		{CommandStart, domain.StatusActive, 1, true},
		{CommandComplete, domain.StatusCompleted, 1, true},
		{CommandReset, domain.StatusWaiting, 2, true},
		{CommandStart, domain.StatusActive, 2, true},
		{CommandReset, domain.StatusWaiting, 3, true},
		{CommandDisable, domain.StatusIdle, 3, false},
	}
	for _, step := range steps {
		got, err := h.svc.Transition(ctx, session.ID, step.cmd)
		require.NoError(t, err, "command %s", step.cmd)
		assert.Equal(t, step.status, got.LiveStatus, "command %s", step.cmd)
		assert.Equal(t, step.round, got.Round, "command %s", step.cmd)
		assert.Equal(t, step.enabled, got.LiveEnabled, "command %s", step.cmd)
	}

	assert.Equal(t, []domain.LifecycleEventType{
		domain.LifecycleLiveEnabled,
		domain.LifecycleStarted,
		domain.LifecycleCompleted,
		domain.LifecycleReset,
		domain.LifecycleStarted,
		domain.LifecycleReset,
		domain.LifecycleDisabled,
	}, h.publisher.types())
}

func TestTransitionRepeatIsNoop(t *testing.T) {
	h := newHarness(t)
	session := h.liveSession(t)

	again, err := h.svc.EnableLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Version, again.Version)
	assert.Equal(t, 1, again.Round)
	assert.Len(t, h.publisher.types(), 1)
}

func TestTransitionRejectsIllegalCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)

	_, err := h.svc.Start(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.svc.ResetToWaiting(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.EnableLive(ctx, session.ID)
	require.NoError(t, err)
	_, err = h.svc.Complete(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.Transition(ctx, session.ID, Command("pause"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.svc.Start(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(" Start ")
	require.NoError(t, err)
	assert.Equal(t, CommandStart, cmd)

	_, err = ParseCommand("rewind")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCreateSessionValidatesQuiz(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateSession(ctx, "quiz-empty")
	assert.ErrorIs(t, err, domain.ErrEmptyQuiz)
	_, err = h.svc.CreateSession(ctx, "quiz-missing")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)

	session := h.createSession(t)
	assert.True(t, domain.ValidAccessCode(session.AccessCode))
	assert.Len(t, session.Questions, 3)
	assert.False(t, session.LiveEnabled)
}

func TestClearResultsHonoursGraceWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.GraceWindow = 10 * time.Second })
	ctx := context.Background()
	session := h.liveSession(t)
	other := h.liveSession(t)
	h.join(t, session.AccessCode, "Alice")
	h.join(t, other.AccessCode, "Bob")

	_, err := h.svc.ClearResults(ctx, session.ID, ClearOptions{})
	assert.ErrorIs(t, err, domain.ErrConfirmationRequired)

	_, err = h.svc.ClearResults(ctx, session.ID, ClearOptions{Confirm: true})
	assert.ErrorIs(t, err, domain.ErrRecentActivity)

	h.clock.Advance(11 * time.Second)
	deleted, err := h.svc.ClearResults(ctx, session.ID, ClearOptions{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	records, err := h.progress.ListProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	untouched, err := h.progress.ListProgress(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, untouched, 1)

	assert.Contains(t, h.publisher.types(), domain.LifecycleResultsCleared)
}

func TestClearResultsForceSkipsGraceWindow(t *testing.T) {
	h := newHarness(t)
	session := h.liveSession(t)
	h.join(t, session.AccessCode, "Alice")
	h.join(t, session.AccessCode, "Bob")

	deleted, err := h.svc.ClearResults(context.Background(), session.ID, ClearOptions{Confirm: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestClearResultsAfterRoundReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.createSession(t)
	other := h.liveSession(t)
	h.join(t, other.AccessCode, "Cleo")

	session, err := h.svc.EnableLive(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, session.Round)
	alice := h.join(t, session.AccessCode, "Alice")
	_, err = h.svc.Start(ctx, session.ID)
	require.NoError(t, err)

	session, err = h.svc.ResetToWaiting(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, session.LiveStatus)
	require.Equal(t, 2, session.Round)
	bob := h.join(t, session.AccessCode, "Bob")

	records, err := h.progress.ListProgress(ctx, session.ID)
	require.NoError(t, err)
	rounds := map[string]int{}
	for _, rec := range records {
		rounds[rec.ID] = rec.Round
	}
	assert.Equal(t, map[string]int{alice.Record().ID: 1, bob.Record().ID: 2}, rounds)

	deleted, err := h.svc.ClearResults(ctx, session.ID, ClearOptions{Confirm: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	records, err = h.progress.ListProgress(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	untouched, err := h.progress.ListProgress(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, untouched, 1)
	assert.Equal(t, "Cleo", untouched[0].StudentName)
}

func TestPublisherFailureDoesNotFailTransition(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Publisher = failingPublisher{} })
	session := h.createSession(t)

	got, err := h.svc.EnableLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.LiveStatus)
}

type failingPublisher struct{}

func (failingPublisher) PublishLifecycle(context.Context, domain.LifecycleEvent) error {
	return errors.New("broker unavailable")
}
