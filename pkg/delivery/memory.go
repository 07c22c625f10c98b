package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const defaultMaxRecords = 1000

// MemoryStore keeps delivery rows in process. When full, the oldest 10% are
// evicted.
type MemoryStore struct {
	records    map[string]Delivery
	mutex      sync.RWMutex
	maxRecords int
}

// NewMemoryStore creates a memory store holding at most maxRecords rows
func NewMemoryStore(maxRecords int) *MemoryStore {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	return &MemoryStore{
		records:    make(map[string]Delivery),
		maxRecords: maxRecords,
	}
}

// Insert adds d
func (s *MemoryStore) Insert(_ context.Context, d Delivery) error {
	if d.ID == "" {
		return fmt.Errorf("delivery id is required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.records) >= s.maxRecords {
		s.evictOldest()
	}
	s.records[d.ID] = d
	return nil
}

// List returns matching rows, newest first
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Delivery, error) {
	s.mutex.RLock()
	result := make([]Delivery, 0, len(s.records))
	for _, d := range s.records {
		if filter.Matches(d) {
			result = append(result, d)
		}
	}
	s.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []Delivery{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// DeleteOlderThan removes rows created before cutoff
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int64
	for id, d := range s.records {
		if d.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored rows
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}

// evictOldest removes the oldest 10% of rows
func (s *MemoryStore) evictOldest() {
	records := make([]Delivery, 0, len(s.records))
	for _, d := range s.records {
		records = append(records, d)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	evictCount := len(records) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(records); i++ {
		delete(s.records, records[i].ID)
	}
}
