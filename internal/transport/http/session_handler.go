package http

import (
	"net/http"
	"strconv"

	"live-quiz-service/internal/app"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionHandler serves the teacher's REST control surface.
type SessionHandler struct {
	svc    *app.LiveService
	logger *zap.Logger
}

func NewSessionHandler(svc *app.LiveService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

type createSessionRequest struct {
	QuizID string `json:"quizId" binding:"required"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "invalid_input", Message: err.Error()}})
		return
	}
	session, err := h.svc.CreateSession(c.Request.Context(), req.QuizID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Control applies one lifecycle command: enable, start, reset, complete or disable.
func (h *SessionHandler) Control(c *gin.Context) {
	cmd, err := app.ParseCommand(c.Param("command"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errorPayload(err)})
		return
	}
	session, err := h.svc.Transition(c.Request.Context(), c.Param("id"), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) Results(c *gin.Context) {
	view, err := h.svc.RaceView(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ClearResults requires ?confirm=true; ?force=true skips the recent-activity guard.
func (h *SessionHandler) ClearResults(c *gin.Context) {
	confirm, _ := strconv.ParseBool(c.Query("confirm"))
	force, _ := strconv.ParseBool(c.Query("force"))
	deleted, err := h.svc.ClearResults(c.Request.Context(), c.Param("id"), app.ClearOptions{Confirm: confirm, Force: force})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *SessionHandler) ExportResults(c *gin.Context) {
	session, records, err := h.svc.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := buildResultsWorkbook(session, records)
	if err != nil {
		h.logger.Error("results export failed", zap.String("session_id", session.ID), zap.Error(err))
		writeError(c, err)
		return
	}
	filename := "results-" + session.AccessCode + "-round-" + strconv.Itoa(session.Round) + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
