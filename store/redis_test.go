package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to SEATGUARD_REDIS_ADDR (default 127.0.0.1:6379)
// and skips the test when no server answers.
func newTestRedis(t *testing.T) *RedisGraceStore {
	t.Helper()
	addr := os.Getenv("SEATGUARD_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	prefix := fmt.Sprintf("seatguard-test:%d:", time.Now().UnixNano())
	s, err := NewRedisGraceStore(client, prefix)
	if err != nil {
		t.Fatalf("NewRedisGraceStore() error = %v", err)
	}
	t.Cleanup(func() {
		s.ClearGrace()
		s.Close()
	})
	return s
}

func TestRedisGraceStore(t *testing.T) {
	testGraceStore(t, newTestRedis(t))
}

func TestRedisGraceStoreMalformedValue(t *testing.T) {
	s := newTestRedis(t)

	if err := s.client.Set(context.Background(), s.prefix+"sub-1", "yesterday", 0).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, _, err := s.FirstViolation("sub-1"); err == nil {
		t.Error("Expected an error for a malformed value")
	}
}

func TestNewRedisGraceStoreDefaultPrefix(t *testing.T) {
	s, err := NewRedisGraceStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	if err != nil {
		t.Fatalf("NewRedisGraceStore() error = %v", err)
	}
	defer s.Close()
	if s.prefix != "seatguard:grace:" {
		t.Errorf("Expected default prefix, got %q", s.prefix)
	}
}
