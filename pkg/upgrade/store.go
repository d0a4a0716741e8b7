package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the durable home of user accounts.
//
// Implementations must make CompareAndSwap atomic per user: the write succeeds
// only when the stored version still equals expectedVersion, and the stored
// version becomes expectedVersion+1. An expectedVersion of 0 means "the
// account must not exist yet" and creates it. The Version field of next is
// ignored.
type Store interface {
	// GetAccount returns a copy of the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, userID string) (*UserAccount, error)

	// CompareAndSwap replaces the account when its version is expectedVersion.
	// Returns ErrVersionConflict when another writer got there first.
	CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, next *UserAccount) error
}

// AccountReader is the read half of Store, used by plan gating and the account API.
type AccountReader interface {
	GetAccount(ctx context.Context, userID string) (*UserAccount, error)
}

// TimeSource defines an interface for getting time from the storage engine.
// Stores that can report their own clock let every replica stamp expiries
// from the same source.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// EnsureAccount returns the account for userID, creating a standard one if none exists.
func EnsureAccount(ctx context.Context, store Store, userID string) (*UserAccount, error) {
	acct, err := store.GetAccount(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	fresh := NewAccount(userID)
	fresh.UpdatedAt = systemClock()
	err = store.CompareAndSwap(ctx, userID, 0, fresh)
	switch {
	case err == nil:
		fresh.Version = 1
		return fresh, nil
	case errors.Is(err, ErrVersionConflict):
		// Created concurrently.
		return store.GetAccount(ctx, userID)
	default:
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}
}
