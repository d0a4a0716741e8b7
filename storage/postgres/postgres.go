// Package postgres provides a PostgreSQL implementation of the upgrade.Store interface.
// Compare-and-swap is a conditional UPDATE on the version column; account
// creation is an INSERT that loses to any concurrent insert.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Schema creates the accounts table. EnsureSchema runs it.
const Schema = `
CREATE TABLE IF NOT EXISTS upgrade_accounts (
	user_id         TEXT PRIMARY KEY,
	plan            TEXT NOT NULL DEFAULT 'standard',
	plan_expiry     TIMESTAMPTZ,
	monthly_usage   INTEGER NOT NULL DEFAULT 0,
	payment_history JSONB NOT NULL DEFAULT '[]'::jsonb,
	version         BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
)`

// Storage implements upgrade.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate runs Schema on startup
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", upgrade.ErrStorageUnavailable, err)
	}

	s := &Storage{pool: pool, config: config}
	if config.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the accounts table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetAccount implements upgrade.Store
func (s *Storage) GetAccount(ctx context.Context, userID string) (*upgrade.UserAccount, error) {
	var (
		acct    upgrade.UserAccount
		plan    string
		history []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, plan, plan_expiry, monthly_usage, payment_history, version, updated_at
			FROM upgrade_accounts WHERE user_id = $1`,
		userID).Scan(&acct.ID, &plan, &acct.PlanExpiry, &acct.MonthlyUsage, &history, &acct.Version, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, upgrade.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.Plan = upgrade.Plan(plan)
	if err := json.Unmarshal(history, &acct.PaymentHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment history: %w", err)
	}
	if acct.PlanExpiry != nil {
		expiry := acct.PlanExpiry.UTC()
		acct.PlanExpiry = &expiry
	}
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return &acct, nil
}

// CompareAndSwap implements upgrade.Store
func (s *Storage) CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, next *upgrade.UserAccount) error {
	if next == nil || userID == "" {
		return fmt.Errorf("%w: account and user id are required", upgrade.ErrValidation)
	}
	history := next.PaymentHistory
	if history == nil {
		history = []upgrade.PaymentEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal payment history: %w", err)
	}
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var query string
	if expectedVersion == 0 {
		query = `INSERT INTO upgrade_accounts
			(user_id, plan, plan_expiry, monthly_usage, payment_history, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::bigint + 1, $7)
			ON CONFLICT (user_id) DO NOTHING`
	} else {
		query = `UPDATE upgrade_accounts
			SET plan = $2, plan_expiry = $3, monthly_usage = $4, payment_history = $5,
				version = $6::bigint + 1, updated_at = $7
			WHERE user_id = $1 AND version = $6`
	}

	tag, err := s.pool.Exec(ctx, query,
		userID, string(next.Plan), next.PlanExpiry, next.MonthlyUsage, historyJSON, expectedVersion, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to write account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return upgrade.ErrVersionConflict
	}
	return nil
}

// Now implements upgrade.TimeSource using the database clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database time: %w", err)
	}
	return now.UTC(), nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var (
	_ upgrade.Store      = (*Storage)(nil)
	_ upgrade.TimeSource = (*Storage)(nil)
)
