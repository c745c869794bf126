package serviceconcurrency

import (
	"context"
	"sync"
	"time"

	"github.com/tommigun1980/serviceconcurrency-go/internal/catch"
)

// Fetch is the type for a fetch callback covering a single key.
type Fetch[K comparable, S any] func(context.Context, K) (S, error)

// BatchFetch is the type for a fetch callback covering a set of keys in one
// invocation. It returns one value per covered key, in any order.
type BatchFetch[K comparable, S any] func(context.Context, []K) ([]S, error)

// Flight coalesces concurrent fetches of the same key without caching
// results. While a fetch for a key is in flight, every other caller
// executing that key joins it and receives the same value and error; once it
// completes, the next caller starts a fresh one.
//
// Only the Name, Logger and Metrics fields of [Config] apply to a Flight.
type Flight[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
	obs   instruments
}

// NewFlight creates a coalescing executor for single-key fetches.
func NewFlight[K comparable, V any](cfg ...Config[K, V]) *Flight[K, V] {
	c := firstConfig(cfg)
	return &Flight[K, V]{
		calls: make(map[K]*call[V]),
		obs:   c.instruments(),
	}
}

// Execute returns the result of fetch for key. If a fetch for key is already
// in flight, Execute joins it instead of invoking fetch again, and Changed
// is false in the returned result. A panic in fetch propagates to every
// caller verbatim.
//
// Cancellation of ctx abandons waiting but never interrupts an in-flight
// fetch, which runs on the goroutine that started it with that caller's
// context.
func (f *Flight[K, V]) Execute(ctx context.Context, key K, fetch Fetch[K, V]) (Result[V], error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		return f.join(ctx, key, c)
	}
	c := newCall[V]()
	f.calls[key] = c
	f.mu.Unlock()

	return f.run(ctx, key, c, fetch)
}

// Running reports whether a fetch for key is currently in flight.
func (f *Flight[K, V]) Running(key K) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.calls[key]
	return ok
}

// Reset forgets every in-flight fetch, as if the executor were freshly
// created. Forgotten fetches still complete and deliver results to the
// callers already waiting on them, but new callers no longer join them.
func (f *Flight[K, V]) Reset() {
	f.mu.Lock()
	f.calls = make(map[K]*call[V])
	f.mu.Unlock()
}

func (f *Flight[K, V]) join(ctx context.Context, key K, c *call[V]) (Result[V], error) {
	f.obs.metrics.RecordJoins(f.obs.name, 1)
	f.obs.debugf("joining in-flight fetch: key=%v", key)
	v, err := c.wait(ctx)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{Value: v}, nil
}

// run invokes fetch as the originating caller for key. The call handle is
// completed and unregistered however fetch concludes, including panics.
func (f *Flight[K, V]) run(ctx context.Context, key K, c *call[V], fetch Fetch[K, V]) (Result[V], error) {
	defer f.finish(key, c)

	f.obs.metrics.RecordFetchStart(f.obs.name)
	defer f.obs.metrics.RecordFetchEnd(f.obs.name)

	start := time.Now()
	c.result = catch.Call(func() (V, error) { return fetch(ctx, key) })
	v, err := c.result.Unwrap()
	f.obs.metrics.RecordFetch(f.obs.name, time.Since(start), err)
	f.obs.debugf("fetch finished: key=%v err=%v", key, err)
	if err != nil {
		return Result[V]{}, err
	}
	return Result[V]{Value: v, Changed: true}, nil
}

// finish completes c and unregisters it from key. A different call
// registered under key, possible after a Reset, is left alone.
func (f *Flight[K, V]) finish(key K, c *call[V]) {
	f.mu.Lock()
	if cur, ok := f.calls[key]; ok && cur == c {
		delete(f.calls, key)
	}
	f.mu.Unlock()
	close(c.done)
}
