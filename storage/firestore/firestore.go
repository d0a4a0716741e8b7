// Package firestore provides a Firestore implementation of the upgrade.Store interface.
// Compare-and-swap runs inside a Firestore transaction that re-reads the
// account's version before writing.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Storage implements upgrade.Store using Google Cloud Firestore
type Storage struct {
	client             *firestore.Client
	accountsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// AccountsCollection is the Firestore collection for user accounts
	// Default: "upgrade_accounts"
	AccountsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.AccountsCollection == "" {
		config.AccountsCollection = "upgrade_accounts"
	}
	return &Storage{
		client:             client,
		accountsCollection: config.AccountsCollection,
	}, nil
}

// GetAccount implements upgrade.Store
func (s *Storage) GetAccount(ctx context.Context, userID string) (*upgrade.UserAccount, error) {
	snap, err := s.accountDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, upgrade.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !snap.Exists() {
		return nil, upgrade.ErrAccountNotFound
	}
	return decodeAccount(userID, snap.Data())
}

// CompareAndSwap implements upgrade.Store
func (s *Storage) CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, next *upgrade.UserAccount) error {
	if next == nil || userID == "" {
		return fmt.Errorf("%w: account and user id are required", upgrade.ErrValidation)
	}
	data, err := encodeAccount(next, expectedVersion+1)
	if err != nil {
		return err
	}

	ref := s.accountDoc(userID)
	err = s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current int64
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			current = getInt64(snap.Data(), "version")
		}
		if current != expectedVersion {
			return upgrade.ErrVersionConflict
		}
		return tx.Set(ref, data)
	})
	if err != nil {
		if errors.Is(err, upgrade.ErrVersionConflict) {
			return upgrade.ErrVersionConflict
		}
		return fmt.Errorf("failed to write account: %w", err)
	}
	return nil
}

func (s *Storage) accountDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.accountsCollection).Doc(userID)
}

// encodeAccount stores history as a JSON string so decimal amounts keep their precision
func encodeAccount(a *upgrade.UserAccount, version int64) (map[string]interface{}, error) {
	history := a.PaymentHistory
	if history == nil {
		history = []upgrade.PaymentEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment history: %w", err)
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	data := map[string]interface{}{
		"plan":           string(a.Plan),
		"planExpiry":     nil,
		"monthlyUsage":   int64(a.MonthlyUsage),
		"paymentHistory": string(historyJSON),
		"version":        version,
		"updatedAt":      updatedAt,
	}
	if a.PlanExpiry != nil {
		data["planExpiry"] = *a.PlanExpiry
	}
	return data, nil
}

func decodeAccount(userID string, data map[string]interface{}) (*upgrade.UserAccount, error) {
	acct := &upgrade.UserAccount{
		ID:             userID,
		Plan:           upgrade.Plan(getString(data, "plan")),
		MonthlyUsage:   int(getInt64(data, "monthlyUsage")),
		PaymentHistory: []upgrade.PaymentEntry{},
		Version:        getInt64(data, "version"),
		UpdatedAt:      getTime(data, "updatedAt").UTC(),
	}
	if expiry := getTime(data, "planExpiry"); !expiry.IsZero() {
		expiry = expiry.UTC()
		acct.PlanExpiry = &expiry
	}
	if raw := getString(data, "paymentHistory"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &acct.PaymentHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment history: %w", err)
		}
	}
	return acct, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

var _ upgrade.Store = (*Storage)(nil)
