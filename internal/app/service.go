package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SessionStore abstracts the durable Session rows and their change feed (in-memory, Redis, etc).
//
// UpdateSession runs mutate against a private copy of the current row. Returning domain.ErrNoChange
// from mutate leaves the row untouched and returns it as-is; any other error aborts the update.
// On success the store bumps Version, stamps UpdatedAt, validates and publishes an update event.
// Subscriptions deliver at-least-once with no ordering guarantee and close when ctx is done or the
// subscriber falls too far behind; callers resubscribe and refetch.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	FindSessionByCode(ctx context.Context, accessCode string) (domain.Session, error)
	UpdateSession(ctx context.Context, id string, mutate func(*domain.Session) error) (domain.Session, error)
	SubscribeSession(ctx context.Context, id string) (<-chan domain.SessionEvent, error)
}

// ProgressStore abstracts per-student ProgressRecord rows, with the same update and
// subscription semantics as SessionStore.
type ProgressStore interface {
	InsertProgress(ctx context.Context, rec domain.ProgressRecord) (domain.ProgressRecord, error)
	GetProgress(ctx context.Context, sessionID, id string) (domain.ProgressRecord, error)
	ListProgress(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error)
	UpdateProgress(ctx context.Context, sessionID, id string, mutate func(*domain.ProgressRecord) error) (domain.ProgressRecord, error)
	DeleteProgress(ctx context.Context, sessionID string) ([]domain.ProgressRecord, error)
	SubscribeProgress(ctx context.Context, sessionID string) (<-chan domain.ProgressEvent, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// LifecyclePublisher fans lifecycle events out to downstream consumers.
type LifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error
}

// Options tunes the live engine. Zero values fall back to defaults.
type Options struct {
	GraceWindow  time.Duration
	Retry        RetryPolicy
	AutoComplete bool
	Clock        clockwork.Clock
	Logger       *zap.Logger
	Publisher    LifecyclePublisher
}

const defaultGraceWindow = 10 * time.Second

// LiveService contains the live session use cases: the session state machine,
// student joins and the teacher's race view.
type LiveService struct {
	sessions  SessionStore
	progress  ProgressStore
	quizzes   QuizRepository
	publisher LifecyclePublisher
	clock     clockwork.Clock
	logger    *zap.Logger
	retry     RetryPolicy
	grace     time.Duration
	autoDone  bool
}

func NewLiveService(sessions SessionStore, progress ProgressStore, quizzes QuizRepository, opts Options) *LiveService {
	s := &LiveService{
		sessions:  sessions,
		progress:  progress,
		quizzes:   quizzes,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
		retry:     opts.Retry,
		grace:     opts.GraceWindow,
		autoDone:  opts.AutoComplete,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	def := DefaultRetryPolicy()
	if s.retry.MaxRetries == 0 {
		s.retry.MaxRetries = def.MaxRetries
	}
	if s.retry.InitialInterval <= 0 {
		s.retry.InitialInterval = def.InitialInterval
	}
	if s.retry.MaxInterval < s.retry.InitialInterval {
		s.retry.MaxInterval = max(def.MaxInterval, s.retry.InitialInterval)
	}
	if s.grace <= 0 {
		s.grace = defaultGraceWindow
	}
	return s
}

// GetSession returns the current session row.
func (s *LiveService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}
