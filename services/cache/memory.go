package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry is a single in-memory cache slot.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStore is an in-memory LRU Store with per-entry TTL. Expiry is lazy:
// expired entries are dropped on access, and evicted from the back of the LRU
// list when the store is full.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List
	maxSize int

	now func() time.Time
}

// NewMemoryStore creates a memory store holding at most maxSize entries.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value for key if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		s.removeLocked(key)
		return nil, false, nil
	}

	s.lruList.MoveToFront(entry.element)
	return entry.value, true, nil
}

// Set stores value under key, evicting the least recently used entry when
// full.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)

	if entry, exists := s.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		s.lruList.MoveToFront(entry.element)
		return nil
	}

	if s.lruList.Len() >= s.maxSize {
		s.evictLRULocked()
	}

	entry := &memoryEntry{key: key, value: value, expiresAt: expiresAt}
	entry.element = s.lruList.PushFront(key)
	s.entries[key] = entry
	return nil
}

// Delete removes key from the store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

// Len returns the number of live entries, counting expired ones not yet
// collected.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lruList.Len()
}

func (s *MemoryStore) removeLocked(key string) {
	if entry, exists := s.entries[key]; exists {
		s.lruList.Remove(entry.element)
		delete(s.entries, key)
	}
}

func (s *MemoryStore) evictLRULocked() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.removeLocked(back.Value.(string))
}
