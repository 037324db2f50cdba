package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"challenge-service/internal/notify"

	"github.com/uptrace/bun"
)

// ProfileAddressBook resolves notification addresses from the profiles table.
type ProfileAddressBook struct {
	db *bun.DB
}

func NewProfileAddressBook(db *bun.DB) *ProfileAddressBook {
	return &ProfileAddressBook{db: db}
}

func (a *ProfileAddressBook) Lookup(ctx context.Context, userID string) (notify.Address, error) {
	row := new(profileRow)
	err := a.db.NewSelect().
		Model(row).
		Column("user_id", "email", "display_name").
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Address{}, notify.ErrNoAddress
	}
	if err != nil {
		return notify.Address{}, fmt.Errorf("select profile: %w", err)
	}
	if row.Email == "" {
		return notify.Address{}, notify.ErrNoAddress
	}
	return notify.Address{Email: row.Email, Name: row.DisplayName}, nil
}
