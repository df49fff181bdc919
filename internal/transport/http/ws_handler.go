package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// WSHandler serves the live endpoints: one connection per student attempt and one per
// teacher race view.
type WSHandler struct {
	svc      *app.LiveService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc *app.LiveService, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeStudent joins the session by access code, waits for the teacher to start the round
// and then runs the timed question loop.
func (h *WSHandler) ServeStudent(c *gin.Context) {
	code := c.Query("code")
	name := strings.TrimSpace(c.Query("name"))
	if code == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "invalid_input", Message: "missing code or name"}})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	conn := newConnection(ws, h.logger)
	defer conn.close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	client, err := h.svc.Join(ctx, code, name)
	if err != nil {
		conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
		return
	}
	defer client.Close()
	logger := h.logger.With(zap.String("session_id", client.Session().ID), zap.String("record_id", client.Record().ID))

	inputs := make(chan app.Input, sendBuffer)
	go func() {
		defer cancel()
		conn.readLoop(func(msg inboundMessage) {
			in, err := parseStudentInput(msg)
			if err != nil {
				conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
				return
			}
			select {
			case inputs <- in:
			case <-ctx.Done():
			}
		})
	}()

	if err := h.awaitStart(ctx, conn, client); err != nil {
		h.finishStudent(conn, logger, err)
		return
	}

	total := len(client.Session().Questions)
	rec, err := client.Play(ctx, inputs, app.PlayHooks{
		QuestionShown: func(index int, q domain.Question, remaining time.Duration) {
			conn.push(outboundMessage{Type: msgQuestion, Payload: questionPayload{
				Index:            index,
				Total:            total,
				ID:               q.ID,
				Text:             q.Text,
				Options:          q.Options,
				TimeLimitSeconds: q.TimeLimitSeconds,
				RemainingSeconds: remaining.Seconds(),
			}})
		},
		AnswerConfirmed: func(rec domain.ProgressRecord) {
			idx := len(rec.Answers) - 1
			answer := rec.Answers[idx]
			conn.push(outboundMessage{Type: msgAnswerResult, Payload: answerResultPayload{
				QuestionIndex:       idx,
				QuestionID:          answer.QuestionID,
				SelectedOptionIndex: answer.SelectedOptionIndex,
				Correct:             answer.IsCorrect,
				Score:               rec.Score,
				Power:               rec.Power,
			}})
		},
		SubmitFailed: func(err error) {
			conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
		},
		InputRejected: func(err error) {
			conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
		},
	})
	if err != nil {
		h.finishStudent(conn, logger, err)
		return
	}
	conn.push(outboundMessage{Type: msgCompleted, Payload: completedPayload{
		Score:                 rec.Score,
		Power:                 rec.Power,
		TotalQuestions:        total,
		TotalTimeTakenSeconds: rec.TotalTimeTakenSeconds,
	}})
}

// awaitStart announces the join and blocks until play may begin. A reset while waiting
// replaces the stale record with one for the new round.
func (h *WSHandler) awaitStart(ctx context.Context, conn *connection, client *app.StudentClient) error {
	for {
		conn.push(outboundMessage{Type: msgJoined, Payload: joinedFor(client)})
		if s := client.Session(); s.LiveEnabled && s.LiveStatus == domain.StatusWaiting {
			conn.push(outboundMessage{Type: msgWaiting})
		}

		err := client.AwaitStart(ctx)
		if errors.Is(err, domain.ErrStaleRound) {
			if err := client.Rejoin(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		conn.push(outboundMessage{Type: msgStarted, Payload: joinedFor(client)})
		return nil
	}
}

func (h *WSHandler) finishStudent(conn *connection, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("student disconnected")
	case errors.Is(err, domain.ErrSessionTerminated):
		conn.push(outboundMessage{Type: msgTerminated})
	case errors.Is(err, domain.ErrRoundCompleted):
		conn.push(outboundMessage{Type: msgRoundCompleted})
	case errors.Is(err, domain.ErrStaleRound):
		conn.push(outboundMessage{Type: msgStaleRound, Payload: errorPayload(err)})
	default:
		logger.Warn("student attempt ended", zap.Error(err))
		conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
	}
}

func joinedFor(client *app.StudentClient) joinedPayload {
	s, rec := client.Session(), client.Record()
	return joinedPayload{
		SessionID:      s.ID,
		RecordID:       rec.ID,
		Title:          s.Title,
		Round:          rec.Round,
		Live:           s.LiveEnabled,
		LiveStatus:     s.LiveStatus,
		TotalQuestions: len(s.Questions),
	}
}

func parseStudentInput(msg inboundMessage) (app.Input, error) {
	switch msg.Type {
	case "select":
		var p selectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.OptionIndex == nil {
			return app.Input{}, fmt.Errorf("%w: select needs optionIndex", domain.ErrInvalidInput)
		}
		return app.Input{Kind: app.InputSelect, OptionIndex: *p.OptionIndex}, nil
	case "submit":
		return app.Input{Kind: app.InputSubmit}, nil
	default:
		return app.Input{}, fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidInput, msg.Type)
	}
}

// ServeTeacher streams the race view of a session and accepts lifecycle commands.
func (h *WSHandler) ServeTeacher(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "invalid_input", Message: "missing sessionId"}})
		return
	}
	if _, err := h.svc.GetSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	conn := newConnection(ws, h.logger)
	defer conn.close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	observer := h.svc.Observe(sessionID)
	views, err := observer.Watch(ctx)
	if err != nil {
		conn.push(outboundMessage{Type: msgError, Payload: errorPayload(err)})
		return
	}
	go func() {
		for view := range views {
			conn.push(outboundMessage{Type: msgRace, Payload: view})
		}
		// The watch ends only on ctx or an unrecoverable feed failure.
		_ = conn.ws.Close()
	}()

	conn.readLoop(func(msg inboundMessage) {
		conn.push(h.teacherCommand(ctx, sessionID, msg))
	})
}

func (h *WSHandler) teacherCommand(ctx context.Context, sessionID string, msg inboundMessage) outboundMessage {
	switch msg.Type {
	case "command":
		var p commandPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return outboundMessage{Type: msgError, Payload: errorPayload(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))}
		}
		cmd, err := app.ParseCommand(p.Command)
		if err != nil {
			return outboundMessage{Type: msgError, Payload: errorPayload(err)}
		}
		session, err := h.svc.Transition(ctx, sessionID, cmd)
		if err != nil {
			return outboundMessage{Type: msgError, Payload: errorPayload(err)}
		}
		return outboundMessage{Type: msgAck, Payload: ackPayload{Command: string(cmd), Session: &session}}
	case "clear":
		var p clearPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return outboundMessage{Type: msgError, Payload: errorPayload(fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))}
		}
		deleted, err := h.svc.ClearResults(ctx, sessionID, app.ClearOptions{Confirm: p.Confirm, Force: p.Force})
		if err != nil {
			return outboundMessage{Type: msgError, Payload: errorPayload(err)}
		}
		return outboundMessage{Type: msgAck, Payload: ackPayload{Command: "clear", Deleted: &deleted}}
	default:
		return outboundMessage{Type: msgError, Payload: errorPayload(fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidInput, msg.Type))}
	}
}

// connection serializes writes through one goroutine; gorilla allows a single concurrent writer.
type connection struct {
	ws     *websocket.Conn
	send   chan outboundMessage
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newConnection(ws *websocket.Conn, logger *zap.Logger) *connection {
	c := &connection{
		ws:     ws,
		send:   make(chan outboundMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.writeLoop()
	return c
}

func (c *connection) writeLoop() {
	defer close(c.done)
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(msg); err != nil {
			c.logger.Debug("ws write error", zap.Error(err))
			return
		}
	}
}

// push queues a message unless the connection is closing or the writer has stopped.
func (c *connection) push(msg outboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *connection) readLoop(handle func(inboundMessage)) {
	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		handle(msg)
	}
}

// close flushes queued messages, sends a close frame and releases the socket.
func (c *connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	<-c.done
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.ws.Close()
}
