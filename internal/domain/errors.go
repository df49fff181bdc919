package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session matches an id or access code.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz is returned when a quiz has no questions to play.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrSessionTerminated means the teacher took the session back to idle while students were playing.
	ErrSessionTerminated = errors.New("session ended")
	// ErrRoundCompleted is returned when joining a round whose content is exhausted.
	ErrRoundCompleted = errors.New("round already completed")
	// ErrPersistence marks transient store failures; see PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrStaleRound marks writes or events from a round the session has moved past; see StaleRoundError.
	ErrStaleRound = errors.New("stale round")
	// ErrRecordNotFound is returned when a progress record does not exist.
	ErrRecordNotFound = errors.New("progress record not found")
	// ErrResultsCleared means the student's record was deleted by the teacher mid-round.
	ErrResultsCleared = errors.New("results were cleared by the teacher")
	// ErrInvalidTransition is returned for a lifecycle command that is illegal from the current state.
	ErrInvalidTransition = errors.New("invalid live status transition")
	// ErrConfirmationRequired is returned when a destructive operation was not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrRecentActivity is returned when clearing results would race with live submissions.
	ErrRecentActivity = errors.New("students submitted answers recently")
	// ErrAccessCodeTaken is returned by stores when an access code is already in use.
	ErrAccessCodeTaken = errors.New("access code already in use")
	// ErrInvalidOption indicates a selected option index outside the question's options.
	ErrInvalidOption = errors.New("option index out of range")
	// ErrAlreadyCompleted is returned when submitting after the last question.
	ErrAlreadyCompleted = errors.New("attempt already completed")
	// ErrSubmissionConflict indicates the stored record moved in a way the submitter did not expect.
	ErrSubmissionConflict = errors.New("submission conflicts with stored progress")
	// ErrScoreMismatch means a record's score or power disagrees with a replay of its answers.
	ErrScoreMismatch = errors.New("score does not match answer history")
	// ErrNotStarted is returned when playing before the round is active.
	ErrNotStarted = errors.New("round has not started")
	// ErrSubmissionPending is returned when changing a selection while its submission is in flight.
	ErrSubmissionPending = errors.New("submission already in flight")
	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoChange is returned by a mutation to signal that the stored row already reflects it.
	ErrNoChange = errors.New("no change")
)

// PersistenceError wraps a transient failure talking to the durable store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NewPersistenceError wraps err unless it is nil or already a persistence error.
func NewPersistenceError(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// StaleRoundError reports a record or event stamped with a round the session has left.
type StaleRoundError struct {
	SessionID    string
	RecordRound  int
	SessionRound int
}

func (e *StaleRoundError) Error() string {
	return fmt.Sprintf("stale round for session %s: record round %d, session round %d", e.SessionID, e.RecordRound, e.SessionRound)
}

func (e *StaleRoundError) Unwrap() error {
	return ErrStaleRound
}
