package serviceconcurrency

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/tommigun1980/serviceconcurrency-go/internal/catch"
)

// BatchMemo coalesces and memoizes batch fetches key by key. Each Execute
// serves what it can from the cache, joins the in-flight batches covering
// keys concurrent calls are already fetching, and fetches only the
// remainder, so each key is fetched at most once while its cached value is
// live.
//
// Values flow differently per provenance. The originating caller converts
// its fetched batch, extracts each needed key's element and caches it.
// Callers that joined a batch convert the shared raw batch themselves and
// return it whole, without extraction, since only the originator knows its
// own needed key set; they never write the cache.
type BatchMemo[K comparable, S, V any] struct {
	mu      sync.Mutex
	calls   map[K]*call[[]S]
	cache   *Cache[K, V]
	convert Converter[S, V]
	extract Extractor[K, V]
	obs     instruments
}

// NewBatchMemo creates a batch memoizing executor whose fetch already
// produces the cached value type. extract selects the element of a fetched
// batch that belongs to each key.
func NewBatchMemo[K comparable, V any](extract Extractor[K, V], cfg ...Config[K, V]) *BatchMemo[K, V, V] {
	return NewConvertedBatchMemo[K, V, V](Identity[V], extract, cfg...)
}

// NewConvertedBatchMemo creates a batch memoizing executor whose fetch
// produces raw S values that convert converts before extraction, caching or
// returning.
func NewConvertedBatchMemo[K comparable, S, V any](convert Converter[S, V], extract Extractor[K, V], cfg ...Config[K, V]) *BatchMemo[K, S, V] {
	if convert == nil {
		panic("serviceconcurrency: nil Converter")
	}
	if extract == nil {
		panic("serviceconcurrency: nil Extractor")
	}
	c := firstConfig(cfg)
	return &BatchMemo[K, S, V]{
		calls:   make(map[K]*call[[]S]),
		cache:   newCache(c),
		convert: convert,
		extract: extract,
		obs:     c.instruments(),
	}
}

// Execute deduplicates keys and returns their values from three sources: the
// cache, the in-flight batches it joined, and its own fetch covering the
// keys nobody else holds. Values is the set-style union of all three with no
// ordering and no cross-source deduplication; callers may rely on every
// requested key being covered, nothing more. ChangedKeys lists the keys this
// call fetched and cached itself.
//
// When this call's fetch or a joined batch fails, Execute still returns the
// values of the parts that succeeded, alongside the first error observed. A
// panic in any involved fetch propagates to every caller verbatim.
func (m *BatchMemo[K, S, V]) Execute(ctx context.Context, keys []K, fetch BatchFetch[K, S]) (BatchResult[K, V], error) {
	return m.execute(ctx, keys, fetch, false)
}

// Refresh is Execute without the cache read: every deduplicated key is
// either joined or freshly fetched, and fresh results replace any cached
// ones.
func (m *BatchMemo[K, S, V]) Refresh(ctx context.Context, keys []K, fetch BatchFetch[K, S]) (BatchResult[K, V], error) {
	return m.execute(ctx, keys, fetch, true)
}

// Running reports whether a fetch covering key is currently in flight.
func (m *BatchMemo[K, S, V]) Running(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.calls[key]
	return ok
}

// Reset returns the executor to its freshly created state: in-flight fetches
// are forgotten, as in [Flight.Reset], and the cache is cleared.
func (m *BatchMemo[K, S, V]) Reset() {
	m.mu.Lock()
	m.calls = make(map[K]*call[[]S])
	m.mu.Unlock()
	m.cache.Clear()
}

// ResetCache clears the cache while leaving in-flight fetches joinable.
func (m *BatchMemo[K, S, V]) ResetCache() {
	m.cache.Clear()
}

// Cache exposes the cache backing this executor for direct reads and
// writes. Values written there are served by Execute like fetched ones.
func (m *BatchMemo[K, S, V]) Cache() *Cache[K, V] {
	return m.cache
}

// Close forgets in-flight fetches and tears down the cache, closing the
// backing store when it is owned. Close implements [io.Closer].
func (m *BatchMemo[K, S, V]) Close() error {
	m.mu.Lock()
	m.calls = make(map[K]*call[[]S])
	m.mu.Unlock()
	return m.cache.Close()
}

func (m *BatchMemo[K, S, V]) execute(ctx context.Context, keys []K, fetch BatchFetch[K, S], bypassRead bool) (BatchResult[K, V], error) {
	keys = lo.Uniq(keys)
	if len(keys) == 0 {
		return BatchResult[K, V]{}, nil
	}

	m.mu.Lock()
	var cached []V
	remaining := keys
	if !bypassRead {
		remaining = nil
		for _, key := range keys {
			if v, ok := m.cache.Get(key); ok {
				cached = append(cached, v)
			} else {
				remaining = append(remaining, key)
			}
		}
	}
	joins, needed := partition(m.calls, remaining)
	var fresh *call[[]S]
	if len(needed) > 0 {
		fresh = newCall[[]S]()
		for _, key := range needed {
			m.calls[key] = fresh
		}
	}
	m.mu.Unlock()

	if !bypassRead {
		m.obs.metrics.RecordCacheHits(m.obs.name, len(cached))
		m.obs.metrics.RecordCacheMisses(m.obs.name, len(remaining))
	}
	m.obs.metrics.RecordJoins(m.obs.name, len(joins))
	m.obs.debugf("partitioned batch: cached=%d joined=%d fetching=%d", len(cached), len(joins), len(needed))

	res := BatchResult[K, V]{Values: cached}
	var firstErr error

	if fresh != nil {
		values, err := m.run(ctx, needed, fresh, fetch)
		if err != nil {
			firstErr = err
		} else {
			res.Values = append(res.Values, values...)
			res.ChangedKeys = needed
		}
	}

	joined, err := waitAll(ctx, joins)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	for _, batch := range joined {
		res.Values = append(res.Values, lo.Map(batch, func(s S, _ int) V { return m.convert(s) })...)
	}
	return res, firstErr
}

// run invokes fetch as the originating caller for the needed keys. Each
// key's extracted value is cached before the call handle completes, so a
// caller arriving after completion finds every key cached rather than
// re-fetching. The handle is unregistered from every key however fetch
// concludes, including panics.
func (m *BatchMemo[K, S, V]) run(ctx context.Context, needed []K, c *call[[]S], fetch BatchFetch[K, S]) ([]V, error) {
	defer m.finishAll(needed, c)

	m.obs.metrics.RecordFetchStart(m.obs.name)
	defer m.obs.metrics.RecordFetchEnd(m.obs.name)

	start := time.Now()
	c.result = catch.Call(func() ([]S, error) { return fetch(ctx, needed) })
	raw, err := c.result.Unwrap()
	m.obs.metrics.RecordFetch(m.obs.name, time.Since(start), err)
	m.obs.debugf("batch fetch finished: keys=%v err=%v", needed, err)
	if err != nil {
		return nil, err
	}

	batch := lo.Map(raw, func(s S, _ int) V { return m.convert(s) })
	values := make([]V, 0, len(needed))
	for _, key := range needed {
		value := m.extract(key, batch)
		m.cache.Set(key, value)
		values = append(values, value)
	}
	return values, nil
}

func (m *BatchMemo[K, S, V]) finishAll(keys []K, c *call[[]S]) {
	m.mu.Lock()
	for _, key := range keys {
		if cur, ok := m.calls[key]; ok && cur == c {
			delete(m.calls, key)
		}
	}
	m.mu.Unlock()
	close(c.done)
}
