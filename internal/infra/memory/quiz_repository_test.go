package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(sampleQuiz("quiz-1"))}
	repo := NewQuizRepository(loader, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
			t.Fatalf("get quiz: %v", err)
		}
	}
	if got := loader.count(); got != 1 {
		t.Fatalf("expected a single load, got %d", got)
	}

	repo.Invalidate("quiz-1")
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz after invalidate: %v", err)
	}
	if got := loader.count(); got != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", got)
	}
}

func TestQuizRepositoryExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(sampleQuiz("quiz-1"))}
	repo := NewQuizRepository(loader, time.Minute)
	repo.now = func() time.Time { return now }

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if got := loader.count(); got != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", got)
	}
}

func TestQuizRepositoryReturnsCopies(t *testing.T) {
	repo := NewQuizRepository(NewStaticQuizLoader(sampleQuiz("quiz-1")), time.Minute)

	first, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	first.Questions[0].Options[0] = "mutated"

	second, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if second.Questions[0].Options[0] == "mutated" {
		t.Fatalf("cache entry was mutated through a returned quiz")
	}
}

func TestQuizRepositoryRejectsInvalidContent(t *testing.T) {
	bad := sampleQuiz("quiz-bad")
	bad.Questions[0].Options = bad.Questions[0].Options[:2]
	repo := NewQuizRepository(NewStaticQuizLoader(bad), time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-bad"); err == nil {
		t.Fatalf("expected validation error for a two-option question")
	}
	if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz(id string) domain.Quiz {
	return domain.Quiz{
		ID:    id,
		Title: "Arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Text: "2 + 2 = ?", Options: []string{"3", "4", "5", "6"}, CorrectOptionIndex: 1, TimeLimitSeconds: 10},
			{ID: "q2", Text: "3 x 3 = ?", Options: []string{"6", "9", "12", "33"}, CorrectOptionIndex: 1, TimeLimitSeconds: 10},
		},
	}
}
