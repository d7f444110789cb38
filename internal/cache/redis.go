package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRoot = "edgecache"

// RedisStorage shares namespaces across edge replicas. Each namespace is a
// hash of request key → JSON entry; the namespace index is a set.
type RedisStorage struct {
	redis *redis.Client
	root  string
}

// NewRedisStorage creates a Redis-backed storage under the given key root.
func NewRedisStorage(client *redis.Client, root string) *RedisStorage {
	if root == "" {
		root = defaultRedisRoot
	}
	return &RedisStorage{redis: client, root: root}
}

func (s *RedisStorage) indexKey() string {
	return s.root + ":namespaces"
}

func (s *RedisStorage) hashKey(name string) string {
	return fmt.Sprintf("%s:ns:%s", s.root, name)
}

// Open returns a handle without touching Redis; the namespace joins the
// index on its first Put.
func (s *RedisStorage) Open(_ context.Context, name string) (Cache, error) {
	return &redisCache{storage: s, name: name}, nil
}

func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, s.indexKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("cache: has namespace: %w", err)
	}
	return ok, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(name))
		removed = pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache: delete namespace: %w", err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: list namespaces: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

type redisCache struct {
	storage *RedisStorage
	name    string
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := c.storage.redis.HGet(ctx, c.storage.hashKey(c.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: match: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("cache: decode entry: %w", err)
	}
	return &e, nil
}

func (c *redisCache) Put(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	_, err = c.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.storage.indexKey(), c.name)
		pipe.HSet(ctx, c.storage.hashKey(c.name), key, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.storage.redis.HDel(ctx, c.storage.hashKey(c.name), key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: delete entry: %w", err)
	}
	return n > 0, nil
}

func (c *redisCache) Len(ctx context.Context) (int, error) {
	n, err := c.storage.redis.HLen(ctx, c.storage.hashKey(c.name)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: len: %w", err)
	}
	return int(n), nil
}
