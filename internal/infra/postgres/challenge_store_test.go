package postgres

import (
	"context"
	"testing"
	"time"

	"challenge-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeStoreGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM "challenges" AS "c" WHERE \(id = 'missing'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewChallengeStore(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChallengeStoreConditionalUpdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bob := "bob"
	c := domain.Challenge{
		ID:         "c1",
		HostID:     "alice",
		OpponentID: &bob,
		Status:     domain.StatusInProgress,
		AcceptedAt: &now,
		Version:    1,
	}

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "applied",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "challenges" AS "c" SET .* WHERE \(id = 'c1'\) AND \(status = 'pending'\) AND \(version = 1\)`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "lost race",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "challenges"`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: domain.ErrStaleWrite,
		},
		{
			name: "row gone",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "challenges"`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: domain.ErrChallengeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setupMock(mock)

			saved, err := NewChallengeStore(db).Update(context.Background(), c, domain.StatusPending)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(2), saved.Version)
				assert.Equal(t, domain.StatusInProgress, saved.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestChallengeStoreStatsDefaultToZero(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT .* FROM "user_challenge_stats" AS "s" WHERE \(user_id = 'newbie'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	st, err := NewChallengeStore(db).GetStats(context.Background(), "newbie")
	require.NoError(t, err)
	assert.Equal(t, domain.UserChallengeStats{UserID: "newbie"}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}
