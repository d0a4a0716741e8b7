// Package memory provides an in-memory implementation of the upgrade.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Storage implements upgrade.Store using an in-memory map
type Storage struct {
	mu       sync.RWMutex
	accounts map[string]*upgrade.UserAccount
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		accounts: make(map[string]*upgrade.UserAccount),
	}
}

// GetAccount implements upgrade.Store
func (s *Storage) GetAccount(_ context.Context, userID string) (*upgrade.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, upgrade.ErrAccountNotFound
	}
	// Return a copy to prevent external mutations
	return acct.Clone(), nil
}

// CompareAndSwap implements upgrade.Store
func (s *Storage) CompareAndSwap(_ context.Context, userID string, expectedVersion int64,
	next *upgrade.UserAccount) error {
	if next == nil || userID == "" {
		return fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if acct, ok := s.accounts[userID]; ok {
		current = acct.Version
	}
	if current != expectedVersion {
		return upgrade.ErrVersionConflict
	}

	stored := next.Clone()
	stored.ID = userID
	stored.Version = expectedVersion + 1
	s.accounts[userID] = stored
	return nil
}

// Len returns the number of stored accounts.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
