package serviceconcurrency

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/tommigun1980/serviceconcurrency-go/internal/catch"
)

// ErrFetchGoexit is the panic value delivered to callers that were waiting on
// a fetch whose goroutine terminated with [runtime.Goexit], for example by
// calling t.FailNow inside the fetch function during a test.
var ErrFetchGoexit = errors.New("serviceconcurrency: fetch executed runtime.Goexit")

// call is a single in-flight fetch. The goroutine that created the call owns
// result until it closes done; every other goroutine may only read result
// after done is closed.
//
// result is seeded with a Goexit capture so that waiters see a meaningful
// outcome even if the fetch goroutine exits without storing one.
type call[T any] struct {
	done   chan struct{}
	result catch.Result[T]
}

func newCall[T any]() *call[T] {
	return &call[T]{
		done:   make(chan struct{}),
		result: catch.Goexit[T](),
	}
}

// wait blocks until the call completes or ctx is done. It replays a captured
// panic from the fetch verbatim, and turns a captured Goexit into a panic
// with [ErrFetchGoexit] so that waiting goroutines are not silently killed.
func (c *call[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		if c.result.Goexited() {
			panic(ErrFetchGoexit)
		}
		return c.result.Unwrap()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// partition splits keys into the distinct calls already in flight for some of
// them and the remainder that nobody is fetching yet. Keys sharing one call
// join it once. The caller must hold the lock guarding calls.
func partition[K comparable, T any](calls map[K]*call[T], keys []K) (joins []*call[T], needed []K) {
	seen := make(map[*call[T]]struct{})
	for _, key := range keys {
		c, ok := calls[key]
		if !ok {
			needed = append(needed, key)
			continue
		}
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			joins = append(joins, c)
		}
	}
	return
}

// waitAll waits on every call concurrently and collects the results of the
// ones that succeeded. It returns the first error among the calls, if any,
// alongside the successful results. A panic or Goexit captured by any call is
// replayed on the calling goroutine once all waits have settled.
func waitAll[T any](ctx context.Context, calls []*call[T]) ([]T, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]catch.Result[T], len(calls))
	var g errgroup.Group
	for i, c := range calls {
		g.Go(func() error {
			r := catch.Call(func() (T, error) { return c.wait(ctx) })
			results[i] = r
			if !r.Returned() {
				return nil // Replayed by the caller after Wait.
			}
			_, err := r.Unwrap()
			return err
		})
	}
	err := g.Wait()

	values := make([]T, 0, len(calls))
	for _, r := range results {
		if !r.Returned() {
			r.Unwrap()
		}
		if v, rerr := r.Unwrap(); rerr == nil {
			values = append(values, v)
		}
	}
	return values, err
}
