package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGraceStore implements GraceStore using Redis.
// Each subscription in a grace period is one key holding the first violation
// as Unix milliseconds. Keys carry no TTL: a recorded violation stays until
// it is deleted, so an expired grace period is not restarted by StartGrace.
type RedisGraceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisGraceStore creates a new Redis grace store from a Redis client and a key prefix.
// prefix typically ends with a colon.
func NewRedisGraceStore(client *redis.Client, keyPrefix string) (*RedisGraceStore, error) {
	if keyPrefix == "" {
		keyPrefix = "seatguard:grace:"
	}
	return &RedisGraceStore{
		client: client,
		prefix: keyPrefix,
	}, nil
}

// RedisConfig contains configuration options for Redis.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string `koanf:"addr"`

	// Password is the Redis password (empty for no auth)
	Password string `koanf:"password"`

	// DB is the Redis database number (0-15)
	DB int `koanf:"db"`

	// KeyPrefix is prepended to all keys (default: "seatguard:grace:")
	// typically ends with a colon.
	KeyPrefix string `koanf:"key_prefix"`
}

// NewRedisFromConfig connects to Redis and creates a grace store.
func NewRedisFromConfig(cfg RedisConfig) (*RedisGraceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}

	return NewRedisGraceStore(client, cfg.KeyPrefix)
}

// StartGrace records the first violation with SETNX, so concurrent callers
// cannot overwrite an existing record.
func (c *RedisGraceStore) StartGrace(subscriptionID string, at time.Time) error {
	ctx := context.Background()
	key := c.prefix + subscriptionID

	err := c.client.SetNX(ctx, key, strconv.FormatInt(toMillis(at), 10), 0).Err()
	if err != nil {
		return fmt.Errorf("redis: failed to set key: %w", err)
	}
	return nil
}

// FirstViolation returns the recorded first violation.
func (c *RedisGraceStore) FirstViolation(subscriptionID string) (time.Time, bool, error) {
	ctx := context.Background()
	key := c.prefix + subscriptionID

	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: failed to get key: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: malformed grace value %q: %w", raw, err)
	}
	return fromMillis(ms), true, nil
}

// DeleteGrace removes a subscription's record.
func (c *RedisGraceStore) DeleteGrace(subscriptionID string) error {
	ctx := context.Background()
	key := c.prefix + subscriptionID

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete key: %w", err)
	}
	return nil
}

// ClearGrace deletes every key under the store's prefix.
func (c *RedisGraceStore) ClearGrace() error {
	ctx := context.Background()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: failed to scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete keys: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisGraceStore) Close() error {
	return c.client.Close()
}

var _ GraceStore = (*RedisGraceStore)(nil)
