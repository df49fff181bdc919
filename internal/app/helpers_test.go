package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"

	"github.com/jonboulle/clockwork"
)

// flakyProgress fails the next N updates with a transient error. With ackLost set the
// update is applied first and only the acknowledgement is lost.
type flakyProgress struct {
	ProgressStore

	mu       sync.Mutex
	failures int
	ackLost  bool
	updates  int
}

func (f *flakyProgress) failNext(n int, ackLost bool) {
	f.mu.Lock()
	f.failures, f.ackLost = n, ackLost
	f.mu.Unlock()
}

func (f *flakyProgress) UpdateProgress(ctx context.Context, sessionID, id string, mutate func(*domain.ProgressRecord) error) (domain.ProgressRecord, error) {
	f.mu.Lock()
	f.updates++
	fail, ackLost := f.failures > 0, f.ackLost
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if !fail {
		return f.ProgressStore.UpdateProgress(ctx, sessionID, id, mutate)
	}
	if ackLost {
		if _, err := f.ProgressStore.UpdateProgress(ctx, sessionID, id, mutate); err != nil {
			return domain.ProgressRecord{}, err
		}
	}
	return domain.ProgressRecord{}, domain.NewPersistenceError("update progress", errors.New("connection reset"))
}

func (f *flakyProgress) updateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (p *recordingPublisher) PublishLifecycle(_ context.Context, event domain.LifecycleEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []domain.LifecycleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LifecycleEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	svc       *LiveService
	clock     clockwork.FakeClock
	sessions  *memory.SessionStore
	progress  *flakyProgress
	publisher *recordingPublisher
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	bus := memory.NewNotifier(nil)
	t.Cleanup(func() { _ = bus.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	h := &harness{
		clock:     clock,
		sessions:  memory.NewSessionStore(bus, memory.WithClock(clock.Now)),
		progress:  &flakyProgress{ProgressStore: memory.NewProgressStore(bus, memory.WithClock(clock.Now))},
		publisher: &recordingPublisher{},
	}
	opts := Options{
		Clock:     h.clock,
		Publisher: h.publisher,
		Retry:     RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}
	for _, m := range mutate {
		m(&opts)
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(threeQuestionQuiz(), emptyQuiz()), time.Minute)
	h.svc = NewLiveService(h.sessions, h.progress, quizzes, opts)
	return h
}

func (h *harness) createSession(t *testing.T) domain.Session {
	t.Helper()
	session, err := h.svc.CreateSession(context.Background(), "quiz-3")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (h *harness) liveSession(t *testing.T) domain.Session {
	t.Helper()
	session := h.createSession(t)
	session, err := h.svc.EnableLive(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("enable live: %v", err)
	}
	return session
}

func (h *harness) join(t *testing.T, code, name string) *StudentClient {
	t.Helper()
	client, err := h.svc.Join(context.Background(), code, name)
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	t.Cleanup(client.Close)
	return client
}

func threeQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-3",
		Title: "Warm-up",
		Questions: []domain.Question{
			{ID: "q1", Text: "2 + 2", Options: []string{"3", "4", "5", "22"}, CorrectOptionIndex: 1, TimeLimitSeconds: 20},
			{ID: "q2", Text: "Capital of France", Options: []string{"Paris", "Rome", "Oslo", "Lima"}, CorrectOptionIndex: 0, TimeLimitSeconds: 20},
			{ID: "q3", Text: "Largest planet", Options: []string{"Mars", "Venus", "Jupiter", "Earth"}, CorrectOptionIndex: 2, TimeLimitSeconds: 20},
		},
	}
}

func emptyQuiz() domain.Quiz {
	return domain.Quiz{ID: "quiz-empty", Title: "Nothing yet", Questions: []domain.Question{}}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
