package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs session-scoped state. Every write refreshes the owner's
// TTL so an idle session expires as a whole.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func (s *RedisStore) key(owner string) string {
	return fmt.Sprintf("session:%s", owner)
}

func (s *RedisStore) Get(ctx context.Context, owner, key string) (string, bool, error) {
	v, err := s.redis.HGet(ctx, s.key(owner), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: session get: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, owner, key, value string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(owner), key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key(owner), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: session set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, owner, key string) error {
	if err := s.redis.HDel(ctx, s.key(owner), key).Err(); err != nil {
		return fmt.Errorf("storage: session delete: %w", err)
	}
	return nil
}
