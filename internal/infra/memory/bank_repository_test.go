package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"challenge-service/internal/domain"
)

func TestBankRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(sampleBank()),
	}
	repo := NewBankRepository(loader, time.Minute)

	if _, err := repo.GetBank(context.Background(), "Mathematics", domain.DifficultyEasy); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	bank, err := repo.GetBank(context.Background(), "  mathematics ", domain.DifficultyEasy)
	if err != nil {
		t.Fatalf("get bank 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
	if len(bank.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(bank.Questions))
	}
}

func TestBankRepositoryMissingBank(t *testing.T) {
	repo := NewBankRepository(NewStaticBankLoader(sampleBank()), time.Minute)
	_, err := repo.GetBank(context.Background(), "Mathematics", domain.DifficultyExpert)
	if !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected bank not found, got %v", err)
	}
}

func TestBankRepositoryInvalidateReloads(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleBank())}
	repo := NewBankRepository(loader, time.Minute)
	ctx := context.Background()

	if _, err := repo.GetBank(ctx, "Mathematics", domain.DifficultyEasy); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if err := repo.Invalidate(ctx, " MATHEMATICS", domain.DifficultyEasy); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := repo.GetBank(ctx, "Mathematics", domain.DifficultyEasy); err != nil {
		t.Fatalf("get bank after invalidate: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestBankRepositoryExpires(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleBank())}
	repo := NewBankRepository(loader, time.Minute)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = repo.GetBank(ctx, "Mathematics", domain.DifficultyEasy)
	now = now.Add(50 * time.Second)
	_, _ = repo.GetBank(ctx, "Mathematics", domain.DifficultyEasy)
	if loader.calls != 1 {
		t.Fatalf("expected cached bank within ttl, loader calls %d", loader.calls)
	}

	now = now.Add(time.Minute)
	_, _ = repo.GetBank(ctx, "Mathematics", domain.DifficultyEasy)
	if loader.calls != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.calls)
	}
}

func TestBankRepositoryWithoutTTLAlwaysLoads(t *testing.T) {
	loader := &countingLoader{BankLoader: NewStaticBankLoader(sampleBank())}
	repo := NewBankRepository(loader, 0)
	for i := 0; i < 3; i++ {
		if _, err := repo.GetBank(context.Background(), "Mathematics", domain.DifficultyEasy); err != nil {
			t.Fatalf("get bank: %v", err)
		}
	}
	if loader.calls != 3 {
		t.Fatalf("expected no caching, loader calls %d", loader.calls)
	}
}

func TestTTLJitterBounds(t *testing.T) {
	j := NewTTLJitter(time.Minute)
	for i := 0; i < 100; i++ {
		got := j.Next()
		if got < time.Minute || got > time.Minute+6*time.Second {
			t.Fatalf("jittered ttl %s out of range", got)
		}
	}
	if got := NewTTLJitter(0).Next(); got != 0 {
		t.Fatalf("expected 0 for disabled ttl, got %s", got)
	}
}

type countingLoader struct {
	BankLoader
	calls int
}

func (l *countingLoader) LoadBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error) {
	l.calls++
	return l.BankLoader.LoadBank(ctx, subject, difficulty)
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		Subject:    "Mathematics",
		Difficulty: domain.DifficultyEasy,
		Questions: []domain.Question{
			{Question: "What is 2 + 2?", Options: []string{"3", "4", "5", "6"}, AnswerIndex: 1},
			{Question: "What is 3 * 3?", Options: []string{"6", "8", "9", "12"}, AnswerIndex: 2},
		},
	}
}
