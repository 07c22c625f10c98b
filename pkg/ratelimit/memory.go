package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It suits a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	blocked map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		blocked: make(map[string]struct{}),
	}
}

// Update applies fn under the store lock
func (s *MemoryStore) Update(_ context.Context, key string, _ time.Time, fn UpdateFunc) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if entry, ok := s.entries[key]; ok {
		current = &entry
	}

	next := fn(current)
	if next == nil {
		delete(s.entries, key)
		return nil, nil
	}
	s.entries[key] = *next
	stored := *next
	return &stored, nil
}

// Get returns a copy of the entry at key
func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup deletes entries past their RetainUntil
func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.RetainUntil()) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Block(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[ip] = struct{}{}
	return nil
}

func (s *MemoryStore) Unblock(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, ip)
	return nil
}

func (s *MemoryStore) IsBlocked(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[ip]
	return ok, nil
}
