package questions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// BankSource returns the question bank for a subject and difficulty.
type BankSource interface {
	GetBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error)
}

// BankInvalidator is implemented by bank caches that can drop a single cached bank.
type BankInvalidator interface {
	Invalidate(ctx context.Context, subject string, difficulty domain.Difficulty) error
}

// BankGenerator draws a random question set from cached question banks. When no bank exists
// at the target difficulty it falls back to the nearest easier one, then to harder ones.
// A bank with fewer questions than requested yields a shorter set.
type BankGenerator struct {
	banks BankSource
	log   logrus.FieldLogger
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBankGenerator(banks BankSource, log logrus.FieldLogger) *BankGenerator {
	return &BankGenerator{
		banks: banks,
		log:   log,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *BankGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.QuestionSet, error) {
	count, difficulty := target(req)

	for _, d := range fallbackOrder(difficulty) {
		bank, err := g.banks.GetBank(ctx, req.Subject, d)
		if errors.Is(err, domain.ErrBankNotFound) {
			continue
		}
		if err != nil {
			return domain.QuestionSet{}, fmt.Errorf("load question bank: %w", err)
		}
		qs := g.draw(domain.SanitizeQuestions(bank.Questions), count)
		if len(qs) == 0 {
			g.dropUnusable(ctx, req.Subject, d)
			continue
		}
		if len(qs) < count {
			g.log.WithFields(logrus.Fields{
				"subject":    req.Subject,
				"difficulty": d,
				"wanted":     count,
				"drawn":      len(qs),
			}).Warn("question bank is short, serving fewer questions than requested")
		}
		return domain.QuestionSet{Questions: qs, Difficulty: difficulty, QuestionCount: len(qs)}, nil
	}
	return domain.QuestionSet{}, fmt.Errorf("%w: %s", domain.ErrBankNotFound, req.Subject)
}

// dropUnusable evicts a cached bank that has no valid questions so the next request reloads it.
func (g *BankGenerator) dropUnusable(ctx context.Context, subject string, d domain.Difficulty) {
	log := g.log.WithFields(logrus.Fields{"subject": subject, "difficulty": d})
	log.Warn("question bank has no usable questions")
	inv, ok := g.banks.(BankInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, subject, d); err != nil {
		log.WithError(err).Warn("invalidate question bank failed")
	}
}

func (g *BankGenerator) draw(pool []domain.Question, count int) []domain.Question {
	if count > len(pool) {
		count = len(pool)
	}
	g.rndMu.Lock()
	perm := g.rnd.Perm(len(pool))
	g.rndMu.Unlock()

	out := make([]domain.Question, 0, count)
	for _, i := range perm[:count] {
		out = append(out, pool[i])
	}
	return out
}

var ladder = []domain.Difficulty{
	domain.DifficultyEasy,
	domain.DifficultyMedium,
	domain.DifficultyHard,
	domain.DifficultyExpert,
}

func fallbackOrder(d domain.Difficulty) []domain.Difficulty {
	idx := 0
	for i, l := range ladder {
		if l == d {
			idx = i
		}
	}
	order := make([]domain.Difficulty, 0, len(ladder))
	for i := idx; i >= 0; i-- {
		order = append(order, ladder[i])
	}
	for i := idx + 1; i < len(ladder); i++ {
		order = append(order, ladder[i])
	}
	return order
}
