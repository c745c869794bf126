package serviceconcurrency

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/tommigun1980/serviceconcurrency-go/internal/catch"
)

// BatchFlight coalesces concurrent batch fetches key by key, without caching
// results. Each Execute fetches only the keys no concurrent call is already
// fetching, and joins the in-flight batches covering the rest, so a key is
// fetched at most once across all overlapping calls.
//
// Only the Name, Logger and Metrics fields of [Config] apply to a
// BatchFlight.
type BatchFlight[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[[]V]
	obs   instruments
}

// NewBatchFlight creates a coalescing executor for batch fetches.
func NewBatchFlight[K comparable, V any](cfg ...Config[K, V]) *BatchFlight[K, V] {
	c := firstConfig(cfg)
	return &BatchFlight[K, V]{
		calls: make(map[K]*call[[]V]),
		obs:   c.instruments(),
	}
}

// Execute deduplicates keys, invokes fetch once for the subset no concurrent
// call is already fetching, and joins the in-flight batches covering the
// rest. Values is the union of this call's own batch and every joined batch,
// taken whole, so it may cover keys beyond the requested ones and carries no
// ordering. ChangedKeys lists the keys this call fetched itself.
//
// When fetch or a joined batch fails, Execute still returns the values of
// the parts that succeeded, alongside the first error observed. A panic in
// any involved fetch propagates to every caller verbatim.
func (b *BatchFlight[K, V]) Execute(ctx context.Context, keys []K, fetch BatchFetch[K, V]) (BatchResult[K, V], error) {
	keys = lo.Uniq(keys)
	if len(keys) == 0 {
		return BatchResult[K, V]{}, nil
	}

	b.mu.Lock()
	joins, needed := partition(b.calls, keys)
	var fresh *call[[]V]
	if len(needed) > 0 {
		fresh = newCall[[]V]()
		for _, key := range needed {
			b.calls[key] = fresh
		}
	}
	b.mu.Unlock()

	b.obs.metrics.RecordJoins(b.obs.name, len(joins))
	b.obs.debugf("partitioned batch: fetching=%d joined=%d", len(needed), len(joins))

	var res BatchResult[K, V]
	var firstErr error

	if fresh != nil {
		values, err := b.run(ctx, needed, fresh, fetch)
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
	res.Values = append(res.Values, lo.Flatten(joined)...)
	return res, firstErr
}

// Running reports whether a fetch covering key is currently in flight.
func (b *BatchFlight[K, V]) Running(key K) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.calls[key]
	return ok
}

// Reset forgets every in-flight fetch, as in [Flight.Reset].
func (b *BatchFlight[K, V]) Reset() {
	b.mu.Lock()
	b.calls = make(map[K]*call[[]V])
	b.mu.Unlock()
}

// run invokes fetch as the originating caller for the needed keys. The call
// handle is completed and unregistered from every key however fetch
// concludes, including panics.
func (b *BatchFlight[K, V]) run(ctx context.Context, needed []K, c *call[[]V], fetch BatchFetch[K, V]) ([]V, error) {
	defer b.finishAll(needed, c)

	b.obs.metrics.RecordFetchStart(b.obs.name)
	defer b.obs.metrics.RecordFetchEnd(b.obs.name)

	start := time.Now()
	c.result = catch.Call(func() ([]V, error) { return fetch(ctx, needed) })
	values, err := c.result.Unwrap()
	b.obs.metrics.RecordFetch(b.obs.name, time.Since(start), err)
	b.obs.debugf("batch fetch finished: keys=%v err=%v", needed, err)
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (b *BatchFlight[K, V]) finishAll(keys []K, c *call[[]V]) {
	b.mu.Lock()
	for _, key := range keys {
		if cur, ok := b.calls[key]; ok && cur == c {
			delete(b.calls, key)
		}
	}
	b.mu.Unlock()
	close(c.done)
}
