package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"challenge-service/internal/domain"
)

// ChallengeStore is an in-memory implementation of app.ChallengeRepository and
// app.StatsRepository. A single mutex serializes writes, which makes the conditional
// update and the completion-plus-stats write atomic.
type ChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]domain.Challenge
	stats      map[string]domain.UserChallengeStats
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]domain.Challenge),
		stats:      make(map[string]domain.UserChallengeStats),
	}
}

func (s *ChallengeStore) Create(_ context.Context, c domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ID]; ok {
		return fmt.Errorf("challenge %s already exists", c.ID)
	}
	if c.Version == 0 {
		c.Version = 1
	}
	s.challenges[c.ID] = clone(c)
	return nil
}

func (s *ChallengeStore) Get(_ context.Context, id string) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	return clone(c), nil
}

func (s *ChallengeStore) Update(_ context.Context, c domain.Challenge, expect domain.Status) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(c, expect)
}

func (s *ChallengeStore) updateLocked(c domain.Challenge, expect domain.Status) (domain.Challenge, error) {
	stored, ok := s.challenges[c.ID]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if stored.Status != expect || stored.Version != c.Version {
		return domain.Challenge{}, domain.ErrStaleWrite
	}
	// questions are written once at creation
	c.Questions = stored.Questions
	c.Version++
	s.challenges[c.ID] = c
	return clone(c), nil
}

func (s *ChallengeStore) Complete(_ context.Context, c domain.Challenge, now time.Time) (domain.Challenge, []domain.UserChallengeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.updateLocked(c, domain.StatusInProgress)
	if err != nil {
		return domain.Challenge{}, nil, err
	}
	outcome := saved.Outcome()
	updated := make([]domain.UserChallengeStats, 0, 2)
	for _, userID := range saved.Participants() {
		st, ok := s.stats[userID]
		if !ok {
			st = domain.UserChallengeStats{UserID: userID}
		}
		st = domain.ApplyResult(st, outcome, now)
		s.stats[userID] = st
		updated = append(updated, st)
	}
	return saved, updated, nil
}

func (s *ChallengeStore) ListIncoming(_ context.Context, opponentID string, now time.Time) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.Status != domain.StatusPending || c.ExpiredAt(now) {
			continue
		}
		if c.OpponentID == nil || *c.OpponentID != opponentID {
			continue
		}
		out = append(out, clone(c))
	}
	sortByCreated(out)
	return out, nil
}

func (s *ChallengeStore) ListExpired(_ context.Context, now time.Time) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.ExpiredAt(now) {
			out = append(out, clone(c))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *ChallengeStore) GetStats(_ context.Context, userID string) (domain.UserChallengeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[userID]; ok {
		return st, nil
	}
	return domain.UserChallengeStats{UserID: userID}, nil
}

// PutStats seeds stats for a user (useful for tests/demos).
func (s *ChallengeStore) PutStats(st domain.UserChallengeStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[st.UserID] = st
}

func clone(c domain.Challenge) domain.Challenge {
	if c.Questions != nil {
		qs := make([]domain.Question, len(c.Questions))
		copy(qs, c.Questions)
		c.Questions = qs
	}
	return c
}

func sortByCreated(cs []domain.Challenge) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
