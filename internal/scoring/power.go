// Package scoring holds the deterministic answer evaluation and power rules shared
// by student clients and any reconciling authority.
package scoring

import "live-quiz-service/internal/domain"

const (
	InitialPower     = 50
	MinPower         = 0
	MaxPower         = 100
	CorrectGain      = 10
	IncorrectPenalty = 5
)

// ApplyAnswer returns the power after one answer. It depends on nothing but its inputs.
func ApplyAnswer(power int, isCorrect bool) int {
	if isCorrect {
		power += CorrectGain
	} else {
		power -= IncorrectPenalty
	}
	if power > MaxPower {
		return MaxPower
	}
	if power < MinPower {
		return MinPower
	}
	return power
}

// IsCorrect evaluates a selection against the question. A nil selection is always incorrect.
func IsCorrect(q domain.Question, selected *int) bool {
	return selected != nil && *selected == q.CorrectOptionIndex
}

// Replay recomputes score and power from an answer history so a stored record can be audited.
func Replay(answers []domain.Answer) (score, power int) {
	power = InitialPower
	for _, a := range answers {
		if a.IsCorrect {
			score++
		}
		power = ApplyAnswer(power, a.IsCorrect)
	}
	return score, power
}
