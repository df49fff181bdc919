package http

import (
	"encoding/json"

	"live-quiz-service/internal/domain"
)

// Outbound message types.
const (
	msgJoined         = "joined"
	msgWaiting        = "waiting"
	msgStarted        = "started"
	msgQuestion       = "question"
	msgAnswerResult   = "answerResult"
	msgCompleted      = "completed"
	msgTerminated     = "terminated"
	msgRoundCompleted = "roundCompleted"
	msgStaleRound     = "staleRound"
	msgRace           = "race"
	msgAck            = "ack"
	msgError          = "error"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type selectPayload struct {
	OptionIndex *int `json:"optionIndex"`
}

type commandPayload struct {
	Command string `json:"command"`
}

type clearPayload struct {
	Confirm bool `json:"confirm"`
	Force   bool `json:"force"`
}

type joinedPayload struct {
	SessionID      string            `json:"sessionId"`
	RecordID       string            `json:"recordId"`
	Title          string            `json:"title"`
	Round          int               `json:"round"`
	Live           bool              `json:"live"`
	LiveStatus     domain.LiveStatus `json:"liveStatus"`
	TotalQuestions int               `json:"totalQuestions"`
}

// questionPayload is what a student sees; the correct option never leaves the server.
type questionPayload struct {
	Index            int      `json:"index"`
	Total            int      `json:"total"`
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	RemainingSeconds float64  `json:"remainingSeconds"`
}

type answerResultPayload struct {
	QuestionIndex       int    `json:"questionIndex"`
	QuestionID          string `json:"questionId"`
	SelectedOptionIndex *int   `json:"selectedOptionIndex"`
	Correct             bool   `json:"correct"`
	Score               int    `json:"score"`
	Power               int    `json:"power"`
}

type completedPayload struct {
	Score                 int      `json:"score"`
	Power                 int      `json:"power"`
	TotalQuestions        int      `json:"totalQuestions"`
	TotalTimeTakenSeconds *float64 `json:"totalTimeTakenSeconds,omitempty"`
}

type ackPayload struct {
	Command string          `json:"command"`
	Session *domain.Session `json:"session,omitempty"`
	Deleted *int            `json:"deleted,omitempty"`
}
