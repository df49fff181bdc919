package domain

import "time"

// LiveStatus is the lifecycle state of a live quiz session.
type LiveStatus string

const (
	StatusIdle      LiveStatus = "idle"
	StatusWaiting   LiveStatus = "waiting"
	StatusActive    LiveStatus = "active"
	StatusCompleted LiveStatus = "completed"
)

// ProgressStatus tracks a single student's attempt.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in-progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// OptionsPerQuestion is the fixed number of choices every question offers.
const OptionsPerQuestion = 4

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID                 string   `json:"id" validate:"required"`
	Text               string   `json:"text" validate:"required"`
	Options            []string `json:"options" validate:"len=4,dive,required"`
	CorrectOptionIndex int      `json:"correctOptionIndex" validate:"min=0,max=3"`
	TimeLimitSeconds   int      `json:"timeLimitSeconds" validate:"min=1,max=3600"`
}

// TimeLimit returns the per-question countdown as a duration.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

// Quiz is authored content loaded from the catalog.
type Quiz struct {
	ID        string     `json:"id" validate:"required"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions" validate:"dive"`
}

// Session is the live-play wrapper around a quiz.
// Round increments every time the session enters waiting; Version increments on every write.
type Session struct {
	ID          string     `json:"id" validate:"required"`
	QuizID      string     `json:"quizId" validate:"required"`
	Title       string     `json:"title"`
	AccessCode  string     `json:"accessCode" validate:"required,len=6"`
	Questions   []Question `json:"questions" validate:"dive"`
	LiveEnabled bool       `json:"liveEnabled"`
	LiveStatus  LiveStatus `json:"liveStatus" validate:"oneof=idle waiting active completed"`
	Round       int        `json:"round" validate:"min=0"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Answer is one submitted (or timed out) response. A nil SelectedOptionIndex means no selection.
type Answer struct {
	QuestionID          string  `json:"questionId" validate:"required"`
	SelectedOptionIndex *int    `json:"selectedOptionIndex" validate:"omitempty,min=0,max=3"`
	IsCorrect           bool    `json:"isCorrect"`
	TimeTakenSeconds    float64 `json:"timeTakenSeconds" validate:"min=0"`
}

// ProgressRecord is one student's attempt at one round of a session.
type ProgressRecord struct {
	ID                    string         `json:"id" validate:"required"`
	SessionID             string         `json:"sessionId" validate:"required"`
	StudentName           string         `json:"studentName" validate:"required,max=64"`
	Round                 int            `json:"round" validate:"min=0"`
	Status                ProgressStatus `json:"status" validate:"oneof=in-progress completed"`
	CurrentQuestionIndex  int            `json:"currentQuestionIndex" validate:"min=0"`
	Score                 int            `json:"score" validate:"min=0"`
	Power                 int            `json:"power" validate:"min=0,max=100"`
	Answers               []Answer       `json:"answers" validate:"dive"`
	TotalTimeTakenSeconds *float64       `json:"totalTimeTakenSeconds,omitempty"`
	Version               int64          `json:"version"`
	JoinedAt              time.Time      `json:"joinedAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// Completed reports whether the attempt is finished.
func (r ProgressRecord) Completed() bool {
	return r.Status == ProgressCompleted
}

// EventKind tags a change notification.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// SessionEvent is a change notification for a Session row.
type SessionEvent struct {
	Kind    EventKind `json:"kind"`
	Session Session   `json:"session"`
}

// ProgressEvent is a change notification for a ProgressRecord row.
type ProgressEvent struct {
	Kind   EventKind      `json:"kind"`
	Record ProgressRecord `json:"record"`
}

// LifecycleEventType names a teacher-driven lifecycle change.
type LifecycleEventType string

const (
	LifecycleLiveEnabled    LifecycleEventType = "session.live_enabled"
	LifecycleStarted        LifecycleEventType = "session.started"
	LifecycleReset          LifecycleEventType = "session.reset"
	LifecycleCompleted      LifecycleEventType = "session.completed"
	LifecycleDisabled       LifecycleEventType = "session.disabled"
	LifecycleResultsCleared LifecycleEventType = "session.results_cleared"
)

// LifecycleEvent is published to downstream consumers after a successful control operation.
type LifecycleEvent struct {
	ID         string             `json:"id"`
	Type       LifecycleEventType `json:"type"`
	SessionID  string             `json:"sessionId"`
	Round      int                `json:"round"`
	LiveStatus LiveStatus         `json:"liveStatus"`
	Deleted    int                `json:"deleted,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// RaceEntry is one roster row of the teacher's race view.
type RaceEntry struct {
	RecordID             string         `json:"recordId"`
	StudentName          string         `json:"studentName"`
	Status               ProgressStatus `json:"status"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Score                int            `json:"score"`
	Power                int            `json:"power"`
	Answered             int            `json:"answered"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// RaceView is the eventually-consistent aggregate of a round's progress.
type RaceView struct {
	SessionID      string      `json:"sessionId"`
	LiveStatus     LiveStatus  `json:"liveStatus"`
	Round          int         `json:"round"`
	TotalQuestions int         `json:"totalQuestions"`
	Entries        []RaceEntry `json:"entries"`
	Joined         int         `json:"joined"`
	Completed      int         `json:"completed"`
	StaleDiscarded int         `json:"staleDiscarded"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
