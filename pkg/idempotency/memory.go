package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for development and tests
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func memoryKey(namespace, eventID string) string {
	return namespace + "\x00" + eventID
}

// DeleteExpired removes expired records
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Get returns the unexpired record for the key
func (s *MemoryStore) Get(ctx context.Context, namespace, eventID string, now time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memoryKey(namespace, eventID)]
	if !ok || rec.Expired(now) {
		return nil, nil
	}
	return &rec, nil
}

// Insert adds rec if the key is free. An expired record still occupies its
// key until DeleteExpired runs, matching the unique constraint in Postgres.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(rec.Namespace, rec.EventID)
	if _, ok := s.records[k]; ok {
		return false, nil
	}
	s.records[k] = rec
	return true, nil
}

// Claim inserts rec or takes over an expired record
func (s *MemoryStore) Claim(ctx context.Context, rec Record) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey(rec.Namespace, rec.EventID)
	if existing, ok := s.records[k]; ok && !existing.Expired(rec.ProcessedAt) {
		return false, &existing, nil
	}
	s.records[k] = rec
	return true, nil, nil
}

// Len returns the number of stored records, expired or not
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
