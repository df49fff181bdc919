package app

import (
	"fmt"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/scoring"
)

// PendingSubmission is an answer computed for a question but not yet confirmed by the store.
// It is built once per question so retries re-send an identical payload.
type PendingSubmission struct {
	Index        int
	Answer       domain.Answer
	Final        bool
	TotalSeconds float64
}

// Apply is the mutation run inside the store's single-row update. Re-applying an already
// stored submission yields domain.ErrNoChange, so retries never double count. Round checks
// happen against the session before the write; the record alone cannot tell.
func (p PendingSubmission) Apply(rec *domain.ProgressRecord) error {
	if rec.CurrentQuestionIndex == p.Index+1 && len(rec.Answers) > p.Index && rec.Answers[p.Index].QuestionID == p.Answer.QuestionID {
		return domain.ErrNoChange
	}
	if rec.Completed() {
		return domain.ErrAlreadyCompleted
	}
	if rec.CurrentQuestionIndex != p.Index {
		return domain.ErrSubmissionConflict
	}

	rec.Answers = append(rec.Answers, p.Answer)
	rec.CurrentQuestionIndex++
	if p.Answer.IsCorrect {
		rec.Score++
	}
	rec.Power = scoring.ApplyAnswer(rec.Power, p.Answer.IsCorrect)
	if p.Final {
		total := p.TotalSeconds
		rec.Status = domain.ProgressCompleted
		rec.TotalTimeTakenSeconds = &total
	}
	return nil
}

// LocalState is the student's optimistic view: what is selected and what is in flight.
// It never runs ahead of the confirmed record's question index.
type LocalState struct {
	QuestionIndex     int
	Selected          *int
	Pending           *PendingSubmission
	Score             int
	Power             int
	QuestionStartedAt time.Time
}

// Reconcile folds a confirmed record into local state. Confirmed progress always wins:
// when it moves past local state the selection and pending submission are dropped, and
// local state that ran ahead is rolled back.
func Reconcile(local LocalState, confirmed domain.ProgressRecord) LocalState {
	next := local
	next.Score = confirmed.Score
	next.Power = confirmed.Power

	if confirmed.CurrentQuestionIndex != local.QuestionIndex {
		next.QuestionIndex = confirmed.CurrentQuestionIndex
		next.Selected = nil
		next.Pending = nil
		next.QuestionStartedAt = time.Time{}
		return next
	}
	if next.Pending != nil && next.Pending.Index != confirmed.CurrentQuestionIndex {
		next.Pending = nil
	}
	return next
}

// AuditRecord replays a record's answer history and reports a score or power that the
// scoring rule would not have produced.
func AuditRecord(rec domain.ProgressRecord) error {
	score, power := scoring.Replay(rec.Answers)
	if score != rec.Score || power != rec.Power {
		return fmt.Errorf("%w: record %s has score %d power %d, answers replay to score %d power %d",
			domain.ErrScoreMismatch, rec.ID, rec.Score, rec.Power, score, power)
	}
	return nil
}
