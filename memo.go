package serviceconcurrency

import (
	"context"
	"sync"
	"time"

	"github.com/tommigun1980/serviceconcurrency-go/internal/catch"
)

// Memo coalesces and memoizes single-key fetches. Each key's value is
// fetched at most once while live: concurrent callers join the in-flight
// fetch, and later callers are served from the cache until the entry
// expires.
//
// The raw fetched S is converted to the cached value type V exactly once per
// caller: the originating caller converts and caches it, and callers that
// joined the fetch convert the shared raw value themselves without touching
// the cache.
type Memo[K comparable, S, V any] struct {
	mu      sync.Mutex
	calls   map[K]*call[S]
	cache   *Cache[K, V]
	convert Converter[S, V]
	obs     instruments
}

// NewMemo creates a memoizing executor whose fetch already produces the
// cached value type.
func NewMemo[K comparable, V any](cfg ...Config[K, V]) *Memo[K, V, V] {
	return NewConvertedMemo[K, V, V](Identity[V], cfg...)
}

// NewConvertedMemo creates a memoizing executor whose fetch produces raw S
// values that convert converts before caching or returning.
func NewConvertedMemo[K comparable, S, V any](convert Converter[S, V], cfg ...Config[K, V]) *Memo[K, S, V] {
	if convert == nil {
		panic("serviceconcurrency: nil Converter")
	}
	c := firstConfig(cfg)
	return &Memo[K, S, V]{
		calls:   make(map[K]*call[S]),
		cache:   newCache(c),
		convert: convert,
		obs:     c.instruments(),
	}
}

// Execute returns the value for key: from the cache when live, by joining an
// in-flight fetch when one exists, or by invoking fetch and caching the
// converted result. Changed is true in the returned result only in the last
// case.
func (m *Memo[K, S, V]) Execute(ctx context.Context, key K, fetch Fetch[K, S]) (Result[V], error) {
	return m.execute(ctx, key, fetch, false)
}

// Refresh is Execute without the cache read: a live cached value does not
// prevent the fetch, and the fresh result replaces it. Refresh still joins
// an in-flight fetch for key rather than start a second one.
func (m *Memo[K, S, V]) Refresh(ctx context.Context, key K, fetch Fetch[K, S]) (Result[V], error) {
	return m.execute(ctx, key, fetch, true)
}

// Running reports whether a fetch for key is currently in flight.
func (m *Memo[K, S, V]) Running(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.calls[key]
	return ok
}

// Reset returns the executor to its freshly created state: in-flight fetches
// are forgotten, as in [Flight.Reset], and the cache is cleared.
func (m *Memo[K, S, V]) Reset() {
	m.mu.Lock()
	m.calls = make(map[K]*call[S])
	m.mu.Unlock()
	m.cache.Clear()
}

// ResetCache clears the cache while leaving in-flight fetches joinable.
func (m *Memo[K, S, V]) ResetCache() {
	m.cache.Clear()
}

// Cache exposes the cache backing this executor for direct reads and
// writes. Values written there are served by Execute like fetched ones.
func (m *Memo[K, S, V]) Cache() *Cache[K, V] {
	return m.cache
}

// Close forgets in-flight fetches and tears down the cache, closing the
// backing store when it is owned. Close implements [io.Closer].
func (m *Memo[K, S, V]) Close() error {
	m.mu.Lock()
	m.calls = make(map[K]*call[S])
	m.mu.Unlock()
	return m.cache.Close()
}

func (m *Memo[K, S, V]) execute(ctx context.Context, key K, fetch Fetch[K, S], bypassRead bool) (Result[V], error) {
	m.mu.Lock()
	if !bypassRead {
		if v, ok := m.cache.Get(key); ok {
			m.mu.Unlock()
			m.obs.metrics.RecordCacheHits(m.obs.name, 1)
			m.obs.debugf("cache hit: key=%v", key)
			return Result[V]{Value: v}, nil
		}
		m.obs.metrics.RecordCacheMisses(m.obs.name, 1)
	}
	if c, ok := m.calls[key]; ok {
		m.mu.Unlock()
		return m.join(ctx, key, c)
	}
	c := newCall[S]()
	m.calls[key] = c
	m.mu.Unlock()

	return m.run(ctx, key, c, fetch)
}

func (m *Memo[K, S, V]) join(ctx context.Context, key K, c *call[S]) (Result[V], error) {
	m.obs.metrics.RecordJoins(m.obs.name, 1)
	m.obs.debugf("joining in-flight fetch: key=%v", key)
	raw, err := c.wait(ctx)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{Value: m.convert(raw)}, nil
}

// run invokes fetch as the originating caller for key. The converted value
// is cached before the call handle completes, so a caller arriving after
// completion finds it cached rather than re-fetching. The handle is
// unregistered however fetch concludes, including panics.
func (m *Memo[K, S, V]) run(ctx context.Context, key K, c *call[S], fetch Fetch[K, S]) (Result[V], error) {
	defer m.finish(key, c)

	m.obs.metrics.RecordFetchStart(m.obs.name)
	defer m.obs.metrics.RecordFetchEnd(m.obs.name)

	start := time.Now()
	c.result = catch.Call(func() (S, error) { return fetch(ctx, key) })
	raw, err := c.result.Unwrap()
	m.obs.metrics.RecordFetch(m.obs.name, time.Since(start), err)
	m.obs.debugf("fetch finished: key=%v err=%v", key, err)
	if err != nil {
		return Result[V]{}, err
	}

	value := m.convert(raw)
	m.cache.Set(key, value)
	return Result[V]{Value: value, Changed: true}, nil
}

func (m *Memo[K, S, V]) finish(key K, c *call[S]) {
	m.mu.Lock()
	if cur, ok := m.calls[key]; ok && cur == c {
		delete(m.calls, key)
	}
	m.mu.Unlock()
	close(c.done)
}
