package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"challenge-service/internal/domain"

	"github.com/uptrace/bun"
)

// ChallengeStore persists challenges and per-user stats with bun. Every update is
// conditioned on the expected status and version, so a lost race surfaces as
// domain.ErrStaleWrite instead of overwriting a concurrent transition.
type ChallengeStore struct {
	db *bun.DB
}

func NewChallengeStore(db *bun.DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) Create(ctx context.Context, c domain.Challenge) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if _, err := s.db.NewInsert().Model(toChallengeRow(c)).Exec(ctx); err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (domain.Challenge, error) {
	row := new(challengeRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("select challenge: %w", err)
	}
	return row.toDomain(), nil
}

func (s *ChallengeStore) Update(ctx context.Context, c domain.Challenge, expect domain.Status) (domain.Challenge, error) {
	return s.update(ctx, s.db, c, expect)
}

// Complete writes the completed challenge and both participants' stats in one transaction.
// Stats rows are locked before the result is folded in.
func (s *ChallengeStore) Complete(ctx context.Context, c domain.Challenge, now time.Time) (domain.Challenge, []domain.UserChallengeStats, error) {
	var (
		saved   domain.Challenge
		updated []domain.UserChallengeStats
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		saved, err = s.update(ctx, tx, c, domain.StatusInProgress)
		if err != nil {
			return err
		}

		outcome := saved.Outcome()
		updated = updated[:0]
		for _, userID := range saved.Participants() {
			current, err := selectStats(ctx, tx, userID, true)
			if err != nil {
				return err
			}
			next := domain.ApplyResult(current, outcome, now)
			_, err = tx.NewInsert().
				Model(toStatsRow(next, now)).
				On("CONFLICT (user_id) DO UPDATE").
				Set("current_streak = EXCLUDED.current_streak").
				Set("highest_streak = EXCLUDED.highest_streak").
				Set("total_wins = EXCLUDED.total_wins").
				Set("total_challenges = EXCLUDED.total_challenges").
				Set("last_challenge_date = EXCLUDED.last_challenge_date").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("upsert stats for %s: %w", userID, err)
			}
			updated = append(updated, next)
		}
		return nil
	})
	if err != nil {
		return domain.Challenge{}, nil, err
	}
	return saved, updated, nil
}

func (s *ChallengeStore) ListIncoming(ctx context.Context, opponentID string, now time.Time) ([]domain.Challenge, error) {
	var rows []challengeRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("opponent_id = ?", opponentID).
		Where("status = ?", string(domain.StatusPending)).
		Where("expires_at > ?", now).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incoming challenges: %w", err)
	}
	return toDomainList(rows), nil
}

func (s *ChallengeStore) ListExpired(ctx context.Context, now time.Time) ([]domain.Challenge, error) {
	var rows []challengeRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("status = ?", string(domain.StatusPending)).
		Where("expires_at <= ?", now).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expired challenges: %w", err)
	}
	return toDomainList(rows), nil
}

func (s *ChallengeStore) GetStats(ctx context.Context, userID string) (domain.UserChallengeStats, error) {
	return selectStats(ctx, s.db, userID, false)
}

func (s *ChallengeStore) update(ctx context.Context, db bun.IDB, c domain.Challenge, expect domain.Status) (domain.Challenge, error) {
	row := toChallengeRow(c)
	row.Version = c.Version + 1
	res, err := db.NewUpdate().
		Model(row).
		ExcludeColumn(immutableColumns...).
		Where("id = ?", c.ID).
		Where("status = ?", string(expect)).
		Where("version = ?", c.Version).
		Exec(ctx)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("update challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("update challenge: %w", err)
	}
	if n == 0 {
		exists, err := db.NewSelect().Model((*challengeRow)(nil)).Where("id = ?", c.ID).Exists(ctx)
		if err != nil {
			return domain.Challenge{}, fmt.Errorf("check challenge: %w", err)
		}
		if !exists {
			return domain.Challenge{}, domain.ErrChallengeNotFound
		}
		return domain.Challenge{}, domain.ErrStaleWrite
	}
	c.Version = row.Version
	return c, nil
}

func selectStats(ctx context.Context, db bun.IDB, userID string, lock bool) (domain.UserChallengeStats, error) {
	row := new(statsRow)
	q := db.NewSelect().Model(row).Where("user_id = ?", userID)
	if lock {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserChallengeStats{UserID: userID}, nil
	}
	if err != nil {
		return domain.UserChallengeStats{}, fmt.Errorf("select stats: %w", err)
	}
	return row.toDomain(), nil
}

func toDomainList(rows []challengeRow) []domain.Challenge {
	out := make([]domain.Challenge, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}
