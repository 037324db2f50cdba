// Package questions produces the immutable question set of a new challenge, either from an
// external AI endpoint or from vetted per-subject question banks.
package questions

import (
	"context"

	"challenge-service/internal/domain"
)

// Generator produces a question set for a new challenge.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.QuestionSet, error)
}

// target derives the question count and difficulty every generator must honour.
func target(req domain.GenerateRequest) (int, domain.Difficulty) {
	return domain.QuestionCount(req.DurationSeconds), domain.DifficultyForStreak(req.HostStreak, req.DurationSeconds)
}
