package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis under a namespace so several
// applications can share one database.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore stores entries as "<namespace><key>" with the given TTL.
func NewRedisStore(client redis.UniversalClient, namespace string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, &ConfigError{Field: "Client", Message: "must not be nil"}
	}
	if ttl <= 0 {
		return nil, &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	return &RedisStore{client: client, namespace: namespace, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// DeletePrefix walks matching keys with SCAN and deletes them in batches.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	const batch = 100

	match := escapeGlob(s.namespace+prefix) + "*"
	iter := s.client.Scan(ctx, 0, match, batch).Iterator()

	n := 0
	keys := make([]string, 0, batch)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		deleted, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("cache: redis del: %w", err)
		}
		n += int(deleted)
		keys = keys[:0]
		return nil
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == batch {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("cache: redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return n, err
	}
	return n, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
