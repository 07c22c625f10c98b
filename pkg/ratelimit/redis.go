package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces rate limit keys
const DefaultRedisPrefix = "herohooks:ratelimit"

const defaultMaxTxRetries = 10

// RedisStore shares entries across instances. Each entry is a JSON value
// updated under WATCH, expiring at its RetainUntil.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

// NewRedisStore creates a store with keys under prefix (DefaultRedisPrefix
// when empty)
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultMaxTxRetries,
	}
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + ":entry:" + key
}

func (s *RedisStore) blockedKey() string {
	return s.prefix + ":blocked"
}

// Update reads, applies fn and writes back in a transaction, retrying when
// another writer touched the key. It returns ErrTxConflict once retries run
// out.
func (s *RedisStore) Update(ctx context.Context, key string, now time.Time, fn UpdateFunc) (*Entry, error) {
	redisKey := s.entryKey(key)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var stored *Entry
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := loadEntry(ctx, tx, redisKey)
			if err != nil {
				return err
			}

			next := fn(current)
			if next == nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, redisKey)
					return nil
				})
				return err
			}

			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal entry: %w", err)
			}
			ttl := next.RetainUntil().Sub(now)
			if ttl < time.Millisecond {
				ttl = time.Millisecond
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, redisKey, data, ttl)
				return nil
			})
			if err == nil {
				stored = next
			}
			return err
		}, redisKey)

		if err == nil {
			return stored, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	return nil, ErrTxConflict
}

func loadEntry(ctx context.Context, tx *redis.Tx, redisKey string) (*Entry, error) {
	raw, err := tx.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// An unreadable entry is replaced rather than failing every request.
		return nil, nil
	}
	return &entry, nil
}

// Cleanup is a no-op; Redis expires entries itself
func (s *RedisStore) Cleanup(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Block(ctx context.Context, ip string) error {
	return s.client.SAdd(ctx, s.blockedKey(), ip).Err()
}

func (s *RedisStore) Unblock(ctx context.Context, ip string) error {
	return s.client.SRem(ctx, s.blockedKey(), ip).Err()
}

func (s *RedisStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return s.client.SIsMember(ctx, s.blockedKey(), ip).Result()
}
