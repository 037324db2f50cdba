package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"challenge-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// BankLoader loads question bank JSONB from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, subject string, difficulty domain.Difficulty) (domain.QuestionBank, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT questions FROM question_bank WHERE lower(subject)=lower(trim($1)) AND difficulty=$2`,
		subject, string(difficulty),
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionBank{}, domain.ErrBankNotFound
	}
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load question bank: %w", err)
	}
	bank := domain.QuestionBank{Subject: subject, Difficulty: difficulty}
	if err := json.Unmarshal(raw, &bank.Questions); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("unmarshal question bank: %w", err)
	}
	return bank, nil
}
