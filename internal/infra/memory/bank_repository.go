package memory

import (
	"context"
	"sync"
	"time"

	"challenge-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// BankLoader fetches question banks from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error)
}

// BankRepository keeps loaded question banks in process memory until a jittered TTL passes.
// Concurrent misses for the same subject and difficulty share one loader call.
type BankRepository struct {
	loader BankLoader
	expiry *TTLJitter
	now    func() time.Time
	loads  singleflight.Group

	mu      sync.RWMutex
	entries map[string]bankEntry
}

type bankEntry struct {
	bank    domain.QuestionBank
	expires time.Time
}

// NewBankRepository caches banks from loader. A non-positive ttl disables caching.
func NewBankRepository(loader BankLoader, ttl time.Duration) *BankRepository {
	return &BankRepository{
		loader:  loader,
		expiry:  NewTTLJitter(ttl),
		now:     time.Now,
		entries: make(map[string]bankEntry),
	}
}

func (r *BankRepository) GetBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error) {
	key := domain.BankKey(subject, difficulty)
	if bank, ok := r.lookup(key); ok {
		return bank, nil
	}

	v, err, _ := r.loads.Do(key, func() (interface{}, error) {
		if bank, ok := r.lookup(key); ok {
			return bank, nil
		}
		bank, err := r.loader.LoadBank(ctx, subject, difficulty)
		if err != nil {
			return domain.QuestionBank{}, err
		}
		r.remember(key, bank)
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return v.(domain.QuestionBank), nil
}

// Invalidate drops a cached bank so the next read goes to the loader.
func (r *BankRepository) Invalidate(_ context.Context, subject string, difficulty domain.Difficulty) error {
	r.mu.Lock()
	delete(r.entries, domain.BankKey(subject, difficulty))
	r.mu.Unlock()
	return nil
}

func (r *BankRepository) lookup(key string) (domain.QuestionBank, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok || !r.now().Before(e.expires) {
		return domain.QuestionBank{}, false
	}
	return e.bank, true
}

func (r *BankRepository) remember(key string, bank domain.QuestionBank) {
	ttl := r.expiry.Next()
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.entries[key] = bankEntry{bank: bank, expires: r.now().Add(ttl)}
	r.mu.Unlock()
}

// StaticBankLoader serves a fixed set of banks keyed by domain.BankKey. The service falls
// back to it when no database is configured.
type StaticBankLoader struct {
	banks map[string]domain.QuestionBank
}

func NewStaticBankLoader(banks ...domain.QuestionBank) *StaticBankLoader {
	l := &StaticBankLoader{banks: make(map[string]domain.QuestionBank, len(banks))}
	for _, b := range banks {
		l.banks[domain.BankKey(b.Subject, b.Difficulty)] = b
	}
	return l
}

func (l *StaticBankLoader) LoadBank(_ context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error) {
	if bank, ok := l.banks[domain.BankKey(subject, difficulty)]; ok {
		return bank, nil
	}
	return domain.QuestionBank{}, domain.ErrBankNotFound
}
