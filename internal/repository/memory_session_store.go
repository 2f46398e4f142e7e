package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemorySessionStore creates a store whose keys expire after ttl (0 = never)
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		data: make(map[string]map[string]memoryEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get implements SessionStore
func (s *MemorySessionStore) Get(_ context.Context, userID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[userID][key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements SessionStore
func (s *MemorySessionStore) Set(_ context.Context, userID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}
	keys, ok := s.data[userID]
	if !ok {
		keys = make(map[string]memoryEntry)
		s.data[userID] = keys
	}
	for k, v := range values {
		keys[k] = memoryEntry{value: v, expiresAt: expiresAt}
	}
	return nil
}

// Clear implements SessionStore
func (s *MemorySessionStore) Clear(_ context.Context, userID string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data[userID], k)
	}
	if len(s.data[userID]) == 0 {
		delete(s.data, userID)
	}
	return nil
}
