package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("access_code", func(fl validator.FieldLevel) bool {
			return ValidAccessCode(fl.Field().String())
		})
	})
	return validate
}

// ValidateQuiz checks authored content before it is used for a session.
func ValidateQuiz(q Quiz) error {
	if err := structValidator().Struct(q); err != nil {
		return fmt.Errorf("invalid quiz %s: %w", q.ID, err)
	}
	return nil
}

// ValidateSession checks a session row at the store boundary.
func ValidateSession(s Session) error {
	if err := structValidator().Struct(s); err != nil {
		return fmt.Errorf("invalid session %s: %w", s.ID, err)
	}
	if err := structValidator().Var(s.AccessCode, "access_code"); err != nil {
		return fmt.Errorf("invalid session %s access code: %w", s.ID, err)
	}
	if (s.LiveStatus == StatusWaiting || s.LiveStatus == StatusActive) && !s.LiveEnabled {
		return fmt.Errorf("invalid session %s: status %s requires live mode", s.ID, s.LiveStatus)
	}
	return nil
}

// ValidateProgress checks a progress record at the store boundary.
func ValidateProgress(r ProgressRecord) error {
	if err := structValidator().Struct(r); err != nil {
		return fmt.Errorf("invalid progress record %s: %w", r.ID, err)
	}
	if len(r.Answers) != r.CurrentQuestionIndex {
		return fmt.Errorf("invalid progress record %s: %d answers for question index %d", r.ID, len(r.Answers), r.CurrentQuestionIndex)
	}
	correct := 0
	for _, a := range r.Answers {
		if a.IsCorrect {
			correct++
		}
	}
	if correct != r.Score {
		return fmt.Errorf("invalid progress record %s: score %d does not match %d correct answers", r.ID, r.Score, correct)
	}
	return nil
}
