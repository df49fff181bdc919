package cli

import "live-quiz-service/internal/domain"

// sampleQuizzes is the built-in catalog used when no database is configured and by migrate --seed.
func sampleQuizzes() []domain.Quiz {
	return []domain.Quiz{
		{
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectOptionIndex: 1, TimeLimitSeconds: 20},
				{ID: "q2", Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Jupiter", "Mars", "Mercury"}, CorrectOptionIndex: 2, TimeLimitSeconds: 20},
				{ID: "q3", Text: "How many minutes are in an hour?", Options: []string{"60", "100", "30", "24"}, CorrectOptionIndex: 0, TimeLimitSeconds: 15},
			},
		},
		{
			ID:    "quiz-2",
			Title: "Vocabulary",
			Questions: []domain.Question{
				{ID: "v1", Text: "Which word is a synonym of \"rapid\"?", Options: []string{"Slow", "Quick", "Heavy", "Quiet"}, CorrectOptionIndex: 1, TimeLimitSeconds: 30},
				{ID: "v2", Text: "Which word is the opposite of \"ancient\"?", Options: []string{"Old", "Modern", "Historic", "Early"}, CorrectOptionIndex: 1, TimeLimitSeconds: 30},
				{ID: "v3", Text: "Pick the correctly spelled word.", Options: []string{"Recieve", "Receive", "Receeve", "Riceive"}, CorrectOptionIndex: 1, TimeLimitSeconds: 30},
				{ID: "v4", Text: "\"Benevolent\" most nearly means", Options: []string{"Kind", "Angry", "Tired", "Lucky"}, CorrectOptionIndex: 0, TimeLimitSeconds: 30},
			},
		},
	}
}
