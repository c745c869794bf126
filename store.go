package serviceconcurrency

import (
	"sync"
	"time"
)

// Store is the key-value store backing a [Cache]. Implementations decide the
// expiration policy: a store that no longer holds a key simply reports a
// miss. Implementations must be safe for concurrent use.
//
// A store provided through [Config.Store] is borrowed, and may hold entries
// written by others alongside those written by the executor. Stores that also
// implement [io.Closer] are closed when an owning [Cache] is closed.
type Store[K comparable, V any] interface {
	// Get returns the live value for key, restarting its expiration window
	// if the store expires entries.
	Get(key K) (V, bool)

	// Set stores value under key, replacing any previous entry and starting
	// a fresh expiration window.
	Set(key K, value V)

	// Remove deletes the entry for key, if any.
	Remove(key K)
}

// MemoryStore is an in-memory [Store] with sliding expiration: every read of
// a key restarts its window, so only keys left untouched for the full window
// expire. Expired entries are reclaimed lazily when the key is next read.
type MemoryStore[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[K]*memoryEntry[V]
}

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewMemoryStore creates a store whose entries expire after going unread for
// ttl. A zero or negative ttl disables expiration.
func NewMemoryStore[K comparable, V any](ttl time.Duration) *MemoryStore[K, V] {
	return &MemoryStore[K, V]{
		ttl:     ttl,
		entries: make(map[K]*memoryEntry[V]),
	}
}

func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if s.ttl > 0 {
		now := time.Now()
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			var zero V
			return zero, false
		}
		e.expiresAt = now.Add(s.ttl)
	}
	return e.value, true
}

func (s *MemoryStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memoryEntry[V]{value: value}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	s.entries[key] = e
}

func (s *MemoryStore[K, V]) Remove(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of entries held, including entries that have
// expired but not yet been reclaimed.
func (s *MemoryStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
