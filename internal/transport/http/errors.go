package http

import (
	"errors"
	"net/http"

	"live-quiz-service/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrQuizNotFound, http.StatusNotFound, "quiz_not_found"},
	{domain.ErrRecordNotFound, http.StatusNotFound, "record_not_found"},
	{domain.ErrEmptyQuiz, http.StatusUnprocessableEntity, "empty_quiz"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrInvalidOption, http.StatusBadRequest, "invalid_option"},
	{domain.ErrConfirmationRequired, http.StatusBadRequest, "confirmation_required"},
	{domain.ErrNotStarted, http.StatusConflict, "not_started"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrRecentActivity, http.StatusConflict, "recent_activity"},
	{domain.ErrRoundCompleted, http.StatusConflict, "round_completed"},
	{domain.ErrSessionTerminated, http.StatusConflict, "session_terminated"},
	{domain.ErrStaleRound, http.StatusConflict, "stale_round"},
	{domain.ErrResultsCleared, http.StatusConflict, "results_cleared"},
	{domain.ErrAlreadyCompleted, http.StatusConflict, "already_completed"},
	{domain.ErrSubmissionPending, http.StatusConflict, "submission_pending"},
	{domain.ErrSubmissionConflict, http.StatusConflict, "submission_conflict"},
	{domain.ErrAccessCodeTaken, http.StatusServiceUnavailable, "access_code_exhausted"},
	{domain.ErrPersistence, http.StatusServiceUnavailable, "persistence_unavailable"},
}

// classify maps an error to its HTTP status and stable wire code.
func classify(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func errorPayload(err error) errorBody {
	_, code := classify(err)
	return errorBody{Code: code, Message: err.Error()}
}

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}
