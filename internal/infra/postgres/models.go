package postgres

import (
	"time"

	"challenge-service/internal/domain"

	"github.com/uptrace/bun"
)

type challengeRow struct {
	bun.BaseModel `bun:"table:challenges,alias:c"`

	ID              string            `bun:"id,pk"`
	HostID          string            `bun:"host_id,notnull"`
	OpponentID      *string           `bun:"opponent_id"`
	Subject         string            `bun:"subject,notnull"`
	DurationSeconds int               `bun:"duration_seconds,notnull"`
	Difficulty      string            `bun:"difficulty,notnull"`
	Questions       []domain.Question `bun:"questions,type:jsonb,notnull"`
	Status          string            `bun:"status,notnull"`

	CreatedAt       time.Time  `bun:"created_at,notnull"`
	ExpiresAt       time.Time  `bun:"expires_at,notnull"`
	AcceptedAt      *time.Time `bun:"accepted_at"`
	HostReadyAt     *time.Time `bun:"host_ready_at"`
	OpponentReadyAt *time.Time `bun:"opponent_ready_at"`
	StartedAt       *time.Time `bun:"started_at"`
	CompletedAt     *time.Time `bun:"completed_at"`

	HostFinished     *bool   `bun:"host_finished"`
	OpponentFinished *bool   `bun:"opponent_finished"`
	HostScore        *int    `bun:"host_score"`
	OpponentScore    *int    `bun:"opponent_score"`
	WinnerID         *string `bun:"winner_id"`
	IsDraw           bool    `bun:"is_draw,notnull"`

	Version int64 `bun:"version,notnull"`
}

// immutableColumns are written once on insert and never touched by conditional updates.
var immutableColumns = []string{"id", "host_id", "subject", "duration_seconds", "difficulty", "questions", "created_at"}

func toChallengeRow(c domain.Challenge) *challengeRow {
	return &challengeRow{
		ID:               c.ID,
		HostID:           c.HostID,
		OpponentID:       c.OpponentID,
		Subject:          c.Subject,
		DurationSeconds:  c.DurationSeconds,
		Difficulty:       string(c.Difficulty),
		Questions:        c.Questions,
		Status:           string(c.Status),
		CreatedAt:        c.CreatedAt,
		ExpiresAt:        c.ExpiresAt,
		AcceptedAt:       c.AcceptedAt,
		HostReadyAt:      c.HostReadyAt,
		OpponentReadyAt:  c.OpponentReadyAt,
		StartedAt:        c.StartedAt,
		CompletedAt:      c.CompletedAt,
		HostFinished:     c.HostFinished,
		OpponentFinished: c.OpponentFinished,
		HostScore:        c.HostScore,
		OpponentScore:    c.OpponentScore,
		WinnerID:         c.WinnerID,
		IsDraw:           c.IsDraw,
		Version:          c.Version,
	}
}

func (r *challengeRow) toDomain() domain.Challenge {
	return domain.Challenge{
		ID:               r.ID,
		HostID:           r.HostID,
		OpponentID:       r.OpponentID,
		Subject:          r.Subject,
		DurationSeconds:  r.DurationSeconds,
		Difficulty:       domain.Difficulty(r.Difficulty),
		Questions:        r.Questions,
		Status:           domain.Status(r.Status),
		CreatedAt:        r.CreatedAt.UTC(),
		ExpiresAt:        r.ExpiresAt.UTC(),
		AcceptedAt:       r.AcceptedAt,
		HostReadyAt:      r.HostReadyAt,
		OpponentReadyAt:  r.OpponentReadyAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		HostFinished:     r.HostFinished,
		OpponentFinished: r.OpponentFinished,
		HostScore:        r.HostScore,
		OpponentScore:    r.OpponentScore,
		WinnerID:         r.WinnerID,
		IsDraw:           r.IsDraw,
		Version:          r.Version,
	}
}

type statsRow struct {
	bun.BaseModel `bun:"table:user_challenge_stats,alias:s"`

	UserID            string     `bun:"user_id,pk"`
	CurrentStreak     int        `bun:"current_streak,notnull"`
	HighestStreak     int        `bun:"highest_streak,notnull"`
	TotalWins         int        `bun:"total_wins,notnull"`
	TotalChallenges   int        `bun:"total_challenges,notnull"`
	LastChallengeDate *time.Time `bun:"last_challenge_date,type:date"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull"`
}

func (r *statsRow) toDomain() domain.UserChallengeStats {
	return domain.UserChallengeStats{
		UserID:            r.UserID,
		CurrentStreak:     r.CurrentStreak,
		HighestStreak:     r.HighestStreak,
		TotalWins:         r.TotalWins,
		TotalChallenges:   r.TotalChallenges,
		LastChallengeDate: r.LastChallengeDate,
	}
}

func toStatsRow(st domain.UserChallengeStats, now time.Time) *statsRow {
	return &statsRow{
		UserID:            st.UserID,
		CurrentStreak:     st.CurrentStreak,
		HighestStreak:     st.HighestStreak,
		TotalWins:         st.TotalWins,
		TotalChallenges:   st.TotalChallenges,
		LastChallengeDate: st.LastChallengeDate,
		UpdatedAt:         now,
	}
}

type profileRow struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UserID      string `bun:"user_id,pk"`
	Email       string `bun:"email"`
	DisplayName string `bun:"display_name"`
}
