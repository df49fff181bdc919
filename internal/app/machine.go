package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"live-quiz-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Command is a teacher-issued lifecycle command.
type Command string

const (
	CommandEnableLive Command = "enable"
	CommandStart      Command = "start"
	CommandReset      Command = "reset"
	CommandComplete   Command = "complete"
	CommandDisable    Command = "disable"
)

type transition struct {
	from     []domain.LiveStatus
	to       domain.LiveStatus
	newRound bool
	event    domain.LifecycleEventType
}

// Every entry into waiting opens a new round so late events from the previous one are detectable.
var transitions = map[Command]transition{
	CommandEnableLive: {
		from:     []domain.LiveStatus{domain.StatusIdle},
		to:       domain.StatusWaiting,
		newRound: true,
		event:    domain.LifecycleLiveEnabled,
	},
	CommandStart: {
		from:  []domain.LiveStatus{domain.StatusWaiting},
		to:    domain.StatusActive,
		event: domain.LifecycleStarted,
	},
	CommandReset: {
		from:     []domain.LiveStatus{domain.StatusActive, domain.StatusCompleted},
		to:       domain.StatusWaiting,
		newRound: true,
		event:    domain.LifecycleReset,
	},
	CommandComplete: {
		from:  []domain.LiveStatus{domain.StatusActive},
		to:    domain.StatusCompleted,
		event: domain.LifecycleCompleted,
	},
	CommandDisable: {
		from:  []domain.LiveStatus{domain.StatusWaiting, domain.StatusActive, domain.StatusCompleted},
		to:    domain.StatusIdle,
		event: domain.LifecycleDisabled,
	},
}

// ParseCommand maps a wire name onto a Command.
func ParseCommand(raw string) (Command, error) {
	cmd := Command(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[cmd]; !ok {
		return "", fmt.Errorf("%w: unknown command %q", domain.ErrInvalidTransition, raw)
	}
	return cmd, nil
}

const maxAccessCodeAttempts = 8

// CreateSession builds an idle session for a quiz with a fresh access code.
func (s *LiveService) CreateSession(ctx context.Context, quizID string) (domain.Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Session{}, domain.ErrEmptyQuiz
	}
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Session{}, err
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxAccessCodeAttempts; attempt++ {
		code, err := domain.NewAccessCode()
		if err != nil {
			return domain.Session{}, err
		}
		session, err := s.sessions.CreateSession(ctx, domain.Session{
			ID:         uuid.NewString(),
			QuizID:     quiz.ID,
			Title:      quiz.Title,
			AccessCode: code,
			Questions:  slices.Clone(quiz.Questions),
			LiveStatus: domain.StatusIdle,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if errors.Is(err, domain.ErrAccessCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Session{}, err
		}
		s.logger.Info("session created",
			zap.String("session_id", session.ID),
			zap.String("quiz_id", quiz.ID),
			zap.String("access_code", session.AccessCode))
		return session, nil
	}
	return domain.Session{}, fmt.Errorf("create session for quiz %s: %w", quizID, domain.ErrAccessCodeTaken)
}

// EnableLive moves an idle session into the waiting lobby of a new round.
func (s *LiveService) EnableLive(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, CommandEnableLive)
}

// Start releases every waiting student; this write is the round's synchronization point.
func (s *LiveService) Start(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, CommandStart)
}

// ResetToWaiting opens a new round. Records of the previous round stay until cleared.
func (s *LiveService) ResetToWaiting(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, CommandReset)
}

// Complete marks the round's content as exhausted.
func (s *LiveService) Complete(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, CommandComplete)
}

// DisableLive tears the session down to idle; connected students observe a forced termination.
func (s *LiveService) DisableLive(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.Transition(ctx, sessionID, CommandDisable)
}

// Transition applies cmd as a single authoritative write. Re-issuing a command whose target
// state is already current is a no-op.
func (s *LiveService) Transition(ctx context.Context, sessionID string, cmd Command) (domain.Session, error) {
	t, ok := transitions[cmd]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: unknown command %q", domain.ErrInvalidTransition, cmd)
	}

	var from domain.LiveStatus
	changed := false
	session, err := s.sessions.UpdateSession(ctx, sessionID, func(sess *domain.Session) error {
		changed = false
		from = sess.LiveStatus
		if sess.LiveStatus == t.to {
			return domain.ErrNoChange
		}
		if !slices.Contains(t.from, sess.LiveStatus) {
			return fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, cmd, sess.LiveStatus)
		}
		sess.LiveStatus = t.to
		sess.LiveEnabled = t.to != domain.StatusIdle
		if t.newRound {
			sess.Round++
		}
		changed = true
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	if !changed {
		return session, nil
	}

	s.logger.Info("session transition",
		zap.String("session_id", session.ID),
		zap.String("command", string(cmd)),
		zap.String("from", string(from)),
		zap.String("to", string(session.LiveStatus)),
		zap.Int("round", session.Round))
	s.publish(ctx, domain.LifecycleEvent{
		Type:       t.event,
		SessionID:  session.ID,
		Round:      session.Round,
		LiveStatus: session.LiveStatus,
	})
	return session, nil
}

// ClearOptions guards the destructive clear-results operation.
type ClearOptions struct {
	Confirm bool
	Force   bool
}

// ClearResults deletes every progress record of the session. Without Force it refuses while
// an in-progress record was updated inside the grace window; this narrows, but cannot close,
// the race with in-flight submissions.
func (s *LiveService) ClearResults(ctx context.Context, sessionID string, opts ClearOptions) (int, error) {
	if !opts.Confirm {
		return 0, domain.ErrConfirmationRequired
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	records, err := s.progress.ListProgress(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	recent := 0
	for _, rec := range records {
		if !rec.Completed() && now.Sub(rec.UpdatedAt) < s.grace {
			recent++
		}
	}
	if recent > 0 && !opts.Force {
		s.logger.Warn("clear results refused",
			zap.String("session_id", sessionID),
			zap.Int("recent_records", recent),
			zap.Duration("grace_window", s.grace))
		return 0, fmt.Errorf("%w: %d attempts updated within %s", domain.ErrRecentActivity, recent, s.grace)
	}

	deleted, err := s.progress.DeleteProgress(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	inFlight := 0
	for _, rec := range deleted {
		if !rec.Completed() {
			inFlight++
		}
	}
	if inFlight > 0 {
		s.logger.Warn("results cleared with attempts in progress",
			zap.String("session_id", sessionID),
			zap.Int("in_progress", inFlight),
			zap.Bool("forced", opts.Force))
	}
	s.logger.Info("results cleared", zap.String("session_id", sessionID), zap.Int("deleted", len(deleted)))
	s.publish(ctx, domain.LifecycleEvent{
		Type:       domain.LifecycleResultsCleared,
		SessionID:  sessionID,
		Round:      session.Round,
		LiveStatus: session.LiveStatus,
		Deleted:    len(deleted),
	})
	return len(deleted), nil
}

func (s *LiveService) publish(ctx context.Context, event domain.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = s.clock.Now()
	if err := s.publisher.PublishLifecycle(ctx, event); err != nil {
		s.logger.Warn("publish lifecycle event failed",
			zap.String("session_id", event.SessionID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
