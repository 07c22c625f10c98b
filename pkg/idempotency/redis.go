package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps records as JSON strings with a native key expiry, so
// expired records vanish on their own and DeleteExpired is a no-op.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed store; prefix defaults to "idempotency"
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

// key length-prefixes the namespace so a ':' inside it cannot shift the
// boundary with the event ID
func (s *RedisStore) key(namespace, eventID string) string {
	return fmt.Sprintf("%s:%d:%s:%s", s.prefix, len(namespace), namespace, eventID)
}

// DeleteExpired is a no-op; Redis expires keys itself
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Get returns the record if its key is still live
func (s *RedisStore) Get(ctx context.Context, namespace, eventID string, now time.Time) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(namespace, eventID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	if rec.Expired(now) {
		return nil, nil
	}
	return &rec, nil
}

// Insert sets the key only if absent (SET NX PX)
func (s *RedisStore) Insert(ctx context.Context, rec Record) (bool, error) {
	ttl := rec.ExpiresAt.Sub(rec.ProcessedAt)
	if ttl <= 0 {
		return false, fmt.Errorf("idempotency record for %s already expired", rec.EventID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, s.key(rec.Namespace, rec.EventID), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Claim is Insert; an expired key no longer exists so it is claimable
func (s *RedisStore) Claim(ctx context.Context, rec Record) (bool, *Record, error) {
	claimed, err := s.Insert(ctx, rec)
	if err != nil || claimed {
		return claimed, nil, err
	}

	existing, err := s.Get(ctx, rec.Namespace, rec.EventID, rec.ProcessedAt)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}
