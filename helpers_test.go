package serviceconcurrency_test

import (
	"sync/atomic"

	serviceconcurrency "github.com/tommigun1980/serviceconcurrency-go"
)

func makeIntKeys(n int) (keys []int) {
	keys = make([]int, n)
	for i := range keys {
		keys[i] = i
	}
	return
}

// countingStore wraps a Store and counts writes, to observe which callers
// actually write the cache.
type countingStore[K comparable, V any] struct {
	serviceconcurrency.Store[K, V]
	sets atomic.Int32
}

func newCountingStore[K comparable, V any]() *countingStore[K, V] {
	return &countingStore[K, V]{Store: serviceconcurrency.NewMemoryStore[K, V](0)}
}

func (s *countingStore[K, V]) Set(key K, value V) {
	s.sets.Add(1)
	s.Store.Set(key, value)
}
