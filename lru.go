package serviceconcurrency

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUStore is a [Store] backed by an expirable LRU cache, bounding the
// number of entries kept in memory. The underlying cache expires entries a
// fixed ttl after they are written; LRUStore rewrites entries on read to turn
// that into a sliding window.
type LRUStore[K comparable, V any] struct {
	// mu serializes every operation. Get rewrites the entry it just read,
	// and that pair must not interleave with a concurrent Remove or Set.
	mu  sync.Mutex
	lru *expirable.LRU[K, V]
}

// NewLRUStore creates a store holding at most size entries, evicting the
// least recently used entry once full. A size of 0 leaves the store
// unbounded. Entries expire after going unread for ttl; a zero ttl disables
// expiration.
func NewLRUStore[K comparable, V any](size int, ttl time.Duration) *LRUStore[K, V] {
	return &LRUStore[K, V]{
		lru: expirable.NewLRU[K, V](size, nil, ttl),
	}
}

func (s *LRUStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.lru.Get(key)
	if ok {
		// Restart the expiration window, which also marks key most recent.
		s.lru.Add(key, v)
	}
	return v, ok
}

func (s *LRUStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, value)
}

func (s *LRUStore[K, V]) Remove(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
}

// Len returns the number of live entries held.
func (s *LRUStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
