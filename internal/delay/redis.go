package delay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albapepper/race-alerts/internal/notifications"
)

// IdempotencyStore remembers which execution names have been started.
type IdempotencyStore interface {
	// Claim records name and reports whether it was new.
	Claim(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release forgets name so a later run may start it again.
	Release(ctx context.Context, name string) error
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore is an IdempotencyStore on Redis SETNX.
type RedisStore struct {
	client redisClient
	prefix string
	clock  func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are prefix + name.
func NewRedisStore(client redisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Claim implements IdempotencyStore. The stored value is the claim time.
func (s *RedisStore) Claim(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+name, s.clock().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release implements IdempotencyStore.
func (s *RedisStore) Release(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.prefix+name).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Deduplicated wraps a Starter so each name is started at most once while
// its claim lives. ttl should outlast the scheduling horizon plus lead time.
// A name already claimed returns notifications.ErrAlreadyScheduled; a failed
// Start releases the claim so the next run retries.
func Deduplicated(next notifications.Starter, store IdempotencyStore, ttl time.Duration, logger *slog.Logger) notifications.Starter {
	if logger == nil {
		logger = slog.Default()
	}
	return &dedupStarter{next: next, store: store, ttl: ttl, logger: logger}
}

type dedupStarter struct {
	next   notifications.Starter
	store  IdempotencyStore
	ttl    time.Duration
	logger *slog.Logger
}

func (d *dedupStarter) Start(ctx context.Context, name string, waitSeconds int64, payload json.RawMessage) error {
	claimed, err := d.store.Claim(ctx, name, d.ttl)
	if err != nil {
		return fmt.Errorf("claim %s: %w", name, err)
	}
	if !claimed {
		return notifications.ErrAlreadyScheduled
	}

	err = d.next.Start(ctx, name, waitSeconds, payload)
	if err != nil && !errors.Is(err, notifications.ErrAlreadyScheduled) {
		if relErr := d.store.Release(ctx, name); relErr != nil {
			d.logger.Warn("Failed to release execution claim", "name", name, "error", relErr)
		}
		return err
	}
	return err
}
