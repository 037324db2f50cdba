package redis

import (
	"context"
	"encoding/json"
	"time"

	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BankRepository caches question banks in Redis and falls back to a loader on cache miss.
// Banks are stored as a JSON blob: SET bank:{subject}:{difficulty} {bank} EX ttl
type BankRepository struct {
	client *redis.Client
	loader memory.BankLoader
	expiry *memory.TTLJitter
	sf     singleflight.Group
}

func NewBankRepository(client *redis.Client, loader memory.BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		client: client,
		loader: loader,
		expiry: memory.NewTTLJitter(ttl),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error) {
	key := bankKey(subject, difficulty)
	if bank, ok := r.cached(ctx, key); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.cached(ctx, key); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadBank(ctx, subject, difficulty)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		if payload, err := json.Marshal(bank); err == nil {
			_ = r.client.Set(ctx, key, payload, r.expiry.Next()).Err()
		}
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

// Invalidate drops a cached bank so the next read goes to the loader.
func (r *BankRepository) Invalidate(ctx context.Context, subject string, difficulty domain.Difficulty) error {
	return r.client.Del(ctx, bankKey(subject, difficulty)).Err()
}

func (r *BankRepository) cached(ctx context.Context, key string) (domain.QuestionBank, bool) {
	// redis.Nil and transport errors both fall through to the loader.
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuestionBank{}, false
	}
	var bank domain.QuestionBank
	if err := json.Unmarshal(raw, &bank); err != nil || len(bank.Questions) == 0 {
		return domain.QuestionBank{}, false
	}
	return bank, true
}

func bankKey(subject string, difficulty domain.Difficulty) string {
	return "bank:" + domain.BankKey(subject, difficulty)
}
