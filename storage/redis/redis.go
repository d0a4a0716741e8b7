// Package redis provides a Redis implementation of the upgrade.Store interface.
// Each account is a hash holding its version and a JSON document; a Lua
// script makes the version check and the write one atomic step.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

const (
	fieldVersion = "version"
	fieldDoc     = "doc"
)

// casScript writes ARGV[2] when the stored version equals ARGV[1].
// A missing key counts as version 0.
var casScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
local expected = tonumber(ARGV[1])
if current == false then
	if expected ~= 0 then
		return 0
	end
elseif tonumber(current) ~= expected then
	return 0
end
redis.call('HSET', KEYS[1], 'version', expected + 1, 'doc', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Storage implements upgrade.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "goupgrade:")
	KeyPrefix string

	// AccountTTL expires idle accounts (0 = no expiration)
	AccountTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "goupgrade:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "goupgrade:"
	}
	return &Storage{client: client, config: config}, nil
}

// GetAccount implements upgrade.Store
func (s *Storage) GetAccount(ctx context.Context, userID string) (*upgrade.UserAccount, error) {
	vals, err := s.client.HMGet(ctx, s.accountKey(userID), fieldVersion, fieldDoc).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	rawVersion, ok1 := vals[0].(string)
	doc, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, upgrade.ErrAccountNotFound
	}

	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt account version %q: %w", rawVersion, err)
	}
	var acct upgrade.UserAccount
	if err := json.Unmarshal([]byte(doc), &acct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	acct.Version = version
	return &acct, nil
}

// CompareAndSwap implements upgrade.Store
func (s *Storage) CompareAndSwap(ctx context.Context, userID string, expectedVersion int64, next *upgrade.UserAccount) error {
	if next == nil || userID == "" {
		return fmt.Errorf("%w: account and user id are required", upgrade.ErrValidation)
	}
	doc := *next
	doc.ID = userID
	doc.Version = expectedVersion + 1
	if doc.PaymentHistory == nil {
		doc.PaymentHistory = []upgrade.PaymentEntry{}
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	res, err := casScript.Run(ctx, s.client, []string{s.accountKey(userID)},
		expectedVersion, string(data), s.config.AccountTTL.Milliseconds()).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return upgrade.ErrVersionConflict
		}
		return fmt.Errorf("failed to write account: %w", err)
	}
	if res == 0 {
		return upgrade.ErrVersionConflict
	}
	return nil
}

// Now implements upgrade.TimeSource using the Redis server clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return t.UTC(), nil
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) accountKey(userID string) string {
	return s.config.KeyPrefix + "account:" + userID
}

var (
	_ upgrade.Store      = (*Storage)(nil)
	_ upgrade.TimeSource = (*Storage)(nil)
)
