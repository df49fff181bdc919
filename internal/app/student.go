package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/scoring"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StudentClient is one student's handle on a session. It is a single-threaded actor:
// methods must not be called concurrently.
type StudentClient struct {
	svc    *LiveService
	logger *zap.Logger

	// live records whether the student joined a live round; self-paced clients ignore lifecycle changes.
	live      bool
	started   bool
	startedAt time.Time

	session   domain.Session
	confirmed domain.ProgressRecord
	local     LocalState

	events    <-chan domain.SessionEvent
	cancelSub context.CancelFunc
}

// Join resolves an access code and creates the student's progress record for the current round.
func (s *LiveService) Join(ctx context.Context, accessCode, studentName string) (*StudentClient, error) {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return nil, fmt.Errorf("%w: student name is required", domain.ErrInvalidInput)
	}
	if !domain.ValidAccessCode(accessCode) {
		return nil, domain.ErrSessionNotFound
	}
	session, err := s.sessions.FindSessionByCode(ctx, domain.NormalizeAccessCode(accessCode))
	if err != nil {
		return nil, err
	}
	if len(session.Questions) == 0 {
		return nil, domain.ErrEmptyQuiz
	}
	if session.LiveEnabled && session.LiveStatus == domain.StatusCompleted {
		return nil, domain.ErrRoundCompleted
	}

	c := &StudentClient{
		svc:     s,
		logger:  s.logger.With(zap.String("session_id", session.ID), zap.String("student", name)),
		live:    session.LiveEnabled,
		session: session,
	}
	// Subscribe before the record exists so no transition after this point is missed.
	if err := c.subscribe(ctx); err != nil {
		return nil, err
	}
	if err := c.createRecord(ctx, name); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Info("student joined", zap.String("record_id", c.confirmed.ID), zap.Int("round", c.confirmed.Round))
	return c, nil
}

// Rejoin replaces a record stamped with a round the session has left by a fresh one.
func (c *StudentClient) Rejoin(ctx context.Context) error {
	c.drainSessionEvents(ctx)
	if c.session.LiveEnabled && c.session.LiveStatus == domain.StatusCompleted {
		return domain.ErrRoundCompleted
	}
	if c.session.LiveEnabled {
		c.live = true
	}
	c.started = false
	return c.createRecord(ctx, c.confirmed.StudentName)
}

func (c *StudentClient) createRecord(ctx context.Context, name string) error {
	now := c.svc.clock.Now()
	rec := domain.ProgressRecord{
		ID:          uuid.NewString(),
		SessionID:   c.session.ID,
		StudentName: name,
		Round:       c.session.Round,
		Status:      domain.ProgressInProgress,
		Power:       scoring.InitialPower,
		Answers:     []domain.Answer{},
		JoinedAt:    now,
		UpdatedAt:   now,
	}
	var stored domain.ProgressRecord
	err := c.svc.retry.do(ctx, func() error {
		var err error
		stored, err = c.svc.progress.InsertProgress(ctx, rec)
		return err
	})
	if err != nil {
		return err
	}
	c.confirmed = stored
	c.local = Reconcile(LocalState{QuestionIndex: -1}, stored)
	return nil
}

// Session returns the latest session row the client has observed.
func (c *StudentClient) Session() domain.Session { return c.session }

// Record returns the last durably confirmed progress record.
func (c *StudentClient) Record() domain.ProgressRecord { return c.confirmed }

// Local returns the optimistic local state.
func (c *StudentClient) Local() LocalState { return c.local }

// Close releases the session subscription.
func (c *StudentClient) Close() {
	if c.cancelSub != nil {
		c.cancelSub()
		c.cancelSub = nil
	}
}

// AwaitStart blocks until the round is active. Self-paced sessions proceed immediately.
// A session torn down to idle fails with domain.ErrSessionTerminated.
func (c *StudentClient) AwaitStart(ctx context.Context) error {
	for {
		if err := c.checkSession(); err != nil {
			return err
		}
		if !c.live || c.session.LiveStatus == domain.StatusActive {
			c.markStarted()
			return nil
		}
		if c.session.LiveStatus == domain.StatusCompleted {
			return domain.ErrRoundCompleted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				if err := c.resubscribe(ctx); err != nil {
					return err
				}
				continue
			}
			c.applySessionEvent(ev)
		}
	}
}

// AnswerCurrent records an optimistic local selection; nothing is persisted yet.
func (c *StudentClient) AnswerCurrent(optionIndex int) error {
	if err := c.requirePlayable(); err != nil {
		return err
	}
	q := c.session.Questions[c.local.QuestionIndex]
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return fmt.Errorf("%w: %d", domain.ErrInvalidOption, optionIndex)
	}
	if c.local.Pending != nil {
		return domain.ErrSubmissionPending
	}
	idx := optionIndex
	c.local.Selected = &idx
	return nil
}

// SubmitAndAdvance scores the current question and persists it as one write. Transient
// failures are retried; if they persist the local question does not advance and a later
// call re-sends the same submission.
func (c *StudentClient) SubmitAndAdvance(ctx context.Context) (domain.ProgressRecord, error) {
	if err := c.requirePlayable(); err != nil {
		return c.confirmed, err
	}
	c.drainSessionEvents(ctx)
	if err := c.checkSession(); err != nil {
		return c.confirmed, err
	}

	if c.local.Pending == nil {
		p := c.prepareSubmission()
		c.local.Pending = &p
	}
	pending := *c.local.Pending

	var stored domain.ProgressRecord
	err := c.svc.retry.do(ctx, func() error {
		var err error
		stored, err = c.svc.progress.UpdateProgress(ctx, c.confirmed.SessionID, c.confirmed.ID, pending.Apply)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRecordNotFound):
		c.logger.Warn("submission lost to cleared results",
			zap.String("record_id", c.confirmed.ID),
			zap.Int("question_index", pending.Index))
		return c.confirmed, fmt.Errorf("%w: %v", domain.ErrResultsCleared, err)
	case errors.Is(err, domain.ErrSubmissionConflict), errors.Is(err, domain.ErrAlreadyCompleted):
		c.logger.Warn("stored progress moved past local state, refetching",
			zap.String("record_id", c.confirmed.ID),
			zap.Int("question_index", pending.Index),
			zap.Error(err))
		if ferr := c.refetchRecord(ctx); ferr != nil {
			return c.confirmed, ferr
		}
		return c.confirmed, err
	case domain.IsTransient(err):
		c.logger.Warn("submission not confirmed", zap.String("record_id", c.confirmed.ID), zap.Int("question_index", pending.Index), zap.Error(err))
		return c.confirmed, err
	default:
		return c.confirmed, err
	}

	c.confirm(stored)
	if !stored.Completed() {
		c.local.QuestionStartedAt = c.svc.clock.Now()
	}
	return stored, nil
}

// refetchRecord replaces the confirmed record with the stored one and reconciles local state.
func (c *StudentClient) refetchRecord(ctx context.Context) error {
	var fresh domain.ProgressRecord
	err := c.svc.retry.do(ctx, func() error {
		var err error
		fresh, err = c.svc.progress.GetProgress(ctx, c.confirmed.SessionID, c.confirmed.ID)
		return err
	})
	if errors.Is(err, domain.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrResultsCleared, err)
	}
	if err != nil {
		return err
	}
	c.confirm(fresh)
	if !fresh.Completed() && c.local.QuestionStartedAt.IsZero() {
		c.local.QuestionStartedAt = c.svc.clock.Now()
	}
	return nil
}

func (c *StudentClient) confirm(rec domain.ProgressRecord) {
	if err := AuditRecord(rec); err != nil {
		c.logger.Error("confirmed record fails score replay", zap.String("record_id", rec.ID), zap.Error(err))
	}
	c.confirmed = rec
	c.local = Reconcile(c.local, rec)
}

func (c *StudentClient) prepareSubmission() PendingSubmission {
	now := c.svc.clock.Now()
	idx := c.local.QuestionIndex
	q := c.session.Questions[idx]

	taken := now.Sub(c.local.QuestionStartedAt)
	if c.local.QuestionStartedAt.IsZero() || taken < 0 {
		taken = 0
	}
	if limit := q.TimeLimit(); taken > limit {
		taken = limit
	}

	var selected *int
	if c.local.Selected != nil {
		v := *c.local.Selected
		selected = &v
	}
	p := PendingSubmission{
		Index: idx,
		Answer: domain.Answer{
			QuestionID:          q.ID,
			SelectedOptionIndex: selected,
			IsCorrect:           scoring.IsCorrect(q, selected),
			TimeTakenSeconds:    taken.Seconds(),
		},
		Final: idx == len(c.session.Questions)-1,
	}
	if p.Final {
		p.TotalSeconds = now.Sub(c.startedAt).Seconds()
	}
	return p
}

func (c *StudentClient) markStarted() {
	if c.started {
		return
	}
	now := c.svc.clock.Now()
	c.started = true
	c.startedAt = now
	c.local.QuestionStartedAt = now
}

func (c *StudentClient) requirePlayable() error {
	if c.confirmed.Completed() {
		return domain.ErrAlreadyCompleted
	}
	if !c.started {
		return domain.ErrNotStarted
	}
	if c.local.QuestionIndex < 0 || c.local.QuestionIndex >= len(c.session.Questions) {
		return domain.ErrAlreadyCompleted
	}
	return nil
}

// checkSession turns the latest observed session state into a terminal error, if any.
func (c *StudentClient) checkSession() error {
	if !c.live {
		return nil
	}
	if c.session.LiveStatus == domain.StatusIdle || !c.session.LiveEnabled {
		return domain.ErrSessionTerminated
	}
	if c.session.Round != c.confirmed.Round {
		return &domain.StaleRoundError{
			SessionID:    c.session.ID,
			RecordRound:  c.confirmed.Round,
			SessionRound: c.session.Round,
		}
	}
	return nil
}

func (c *StudentClient) applySessionEvent(ev domain.SessionEvent) {
	if ev.Session.ID != c.session.ID {
		return
	}
	if ev.Kind == domain.EventDelete {
		c.session.LiveStatus = domain.StatusIdle
		c.session.LiveEnabled = false
		return
	}
	if ev.Session.Version > c.session.Version {
		c.session = ev.Session
	}
}

// drainSessionEvents applies whatever notifications are already buffered without blocking.
func (c *StudentClient) drainSessionEvents(ctx context.Context) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				if err := c.resubscribe(ctx); err != nil {
					c.logger.Warn("resubscribe failed", zap.Error(err))
					return
				}
				continue
			}
			c.applySessionEvent(ev)
		default:
			return
		}
	}
}

func (c *StudentClient) subscribe(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := c.svc.sessions.SubscribeSession(subCtx, c.session.ID)
	if err != nil {
		cancel()
		return err
	}
	c.events = events
	c.cancelSub = cancel

	// Snapshot after subscribing: anything newer arrives on the channel.
	current, err := c.svc.sessions.GetSession(ctx, c.session.ID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		c.applySessionEvent(domain.SessionEvent{Kind: domain.EventDelete, Session: c.session})
		return nil
	}
	if err != nil {
		c.Close()
		return err
	}
	c.applySessionEvent(domain.SessionEvent{Kind: domain.EventUpdate, Session: current})
	return nil
}

func (c *StudentClient) resubscribe(ctx context.Context) error {
	c.Close()
	c.logger.Debug("session stream dropped, resubscribing")
	return c.svc.retry.do(ctx, func() error {
		return c.subscribe(ctx)
	})
}
