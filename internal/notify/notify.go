// Package notify delivers fire-and-forget user notifications. Delivery failures are logged
// and never reach the caller.
package notify

import (
	"context"
	"errors"

	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// ErrNoAddress is returned by an AddressBook when a user has no reachable address.
var ErrNoAddress = errors.New("no address for user")

// Address is where a user's notifications go.
type Address struct {
	Email string
	Name  string
}

// AddressBook resolves user ids to addresses.
type AddressBook interface {
	Lookup(ctx context.Context, userID string) (Address, error)
}

// StaticAddressBook is an AddressBook backed by a fixed map, usually loaded from config.
type StaticAddressBook map[string]Address

func (b StaticAddressBook) Lookup(_ context.Context, userID string) (Address, error) {
	if addr, ok := b[userID]; ok && addr.Email != "" {
		return addr, nil
	}
	return Address{}, ErrNoAddress
}

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct {
	log logrus.FieldLogger
}

func NewLogDispatcher(log logrus.FieldLogger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n domain.Notification) {
	d.log.WithFields(logrus.Fields{
		"user_id": n.UserID,
		"kind":    n.Kind,
		"subject": n.Subject,
	}).Info(n.Body)
}
