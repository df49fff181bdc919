package app

import (
	"context"
	"errors"
	"time"

	"live-quiz-service/internal/domain"

	"go.uber.org/zap"
)

// InputKind distinguishes student actions fed into Play.
type InputKind int

const (
	InputSelect InputKind = iota
	InputSubmit
)

// Input is one student action.
type Input struct {
	Kind        InputKind
	OptionIndex int
}

// PlayHooks lets a transport render the loop's progress. Nil hooks are skipped.
type PlayHooks struct {
	QuestionShown   func(index int, q domain.Question, remaining time.Duration)
	AnswerConfirmed func(rec domain.ProgressRecord)
	SubmitFailed    func(err error)
	InputRejected   func(err error)
}

// submitRetryPause is how long the loop waits before re-sending a submission whose
// retries were exhausted. Progression stays blocked meanwhile.
const submitRetryPause = 2 * time.Second

// Play runs the per-question countdown loop until the attempt completes. When a question's
// timer expires the current selection, or no selection at all, is submitted exactly as a
// manual submit would be.
func (c *StudentClient) Play(ctx context.Context, inputs <-chan Input, hooks PlayHooks) (domain.ProgressRecord, error) {
	if !c.started {
		return c.confirmed, domain.ErrNotStarted
	}

	for !c.confirmed.Completed() {
		idx := c.local.QuestionIndex
		q := c.session.Questions[idx]
		if c.local.QuestionStartedAt.IsZero() {
			c.local.QuestionStartedAt = c.svc.clock.Now()
		}
		remaining := q.TimeLimit() - c.svc.clock.Now().Sub(c.local.QuestionStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		timer := c.svc.clock.After(remaining)
		if hooks.QuestionShown != nil {
			hooks.QuestionShown(idx, q, remaining)
		}

		var retry <-chan time.Time
		for c.local.QuestionIndex == idx && !c.confirmed.Completed() {
			submit := false
			select {
			case <-ctx.Done():
				return c.confirmed, ctx.Err()
			case in, ok := <-inputs:
				if !ok {
					inputs = nil
					continue
				}
				switch in.Kind {
				case InputSelect:
					if err := c.AnswerCurrent(in.OptionIndex); err != nil && hooks.InputRejected != nil {
						hooks.InputRejected(err)
					}
				case InputSubmit:
					submit = retry == nil
				}
			case <-timer:
				timer = nil
				submit = retry == nil
				c.logger.Debug("question timed out", zap.Int("question_index", idx))
			case <-retry:
				retry = nil
				submit = true
			case ev, ok := <-c.events:
				if !ok {
					if err := c.resubscribe(ctx); err != nil {
						return c.confirmed, err
					}
					continue
				}
				c.applySessionEvent(ev)
				if err := c.checkPlaying(); err != nil {
					return c.confirmed, err
				}
			}
			if !submit {
				continue
			}

			rec, err := c.SubmitAndAdvance(ctx)
			switch {
			case err == nil:
				if hooks.AnswerConfirmed != nil {
					hooks.AnswerConfirmed(rec)
				}
			case domain.IsTransient(err):
				if hooks.SubmitFailed != nil {
					hooks.SubmitFailed(err)
				}
				retry = c.svc.clock.After(submitRetryPause)
			case errors.Is(err, domain.ErrSubmissionConflict), errors.Is(err, domain.ErrAlreadyCompleted):
				// The record was refetched; the loop resumes from the stored question.
				if hooks.SubmitFailed != nil {
					hooks.SubmitFailed(err)
				}
			default:
				return c.confirmed, err
			}
		}
	}
	c.logger.Info("attempt completed",
		zap.String("record_id", c.confirmed.ID),
		zap.Int("score", c.confirmed.Score),
		zap.Int("power", c.confirmed.Power))
	return c.confirmed, nil
}

func (c *StudentClient) checkPlaying() error {
	if err := c.checkSession(); err != nil {
		return err
	}
	if c.live && c.session.LiveStatus == domain.StatusCompleted {
		return domain.ErrRoundCompleted
	}
	return nil
}
