package serviceconcurrency

import "context"

// NoKey is the key type for executors whose operation takes no arguments.
type NoKey = struct{}

// Single coalesces concurrent invocations of a single no-argument operation.
// It is [Flight] specialized to one implicit key.
type Single[V any] struct {
	flight *Flight[NoKey, V]
}

// NewSingle creates a coalescing executor for a no-argument operation.
func NewSingle[V any](cfg ...Config[NoKey, V]) *Single[V] {
	return &Single[V]{flight: NewFlight[NoKey, V](cfg...)}
}

// Execute returns the result of fetch, joining an invocation already in
// flight when one exists instead of starting another.
func (s *Single[V]) Execute(ctx context.Context, fetch func(context.Context) (V, error)) (Result[V], error) {
	return s.flight.Execute(ctx, NoKey{}, func(ctx context.Context, _ NoKey) (V, error) {
		return fetch(ctx)
	})
}

// Running reports whether an invocation is currently in flight.
func (s *Single[V]) Running() bool {
	return s.flight.Running(NoKey{})
}

// Reset forgets an in-flight invocation, as in [Flight.Reset].
func (s *Single[V]) Reset() {
	s.flight.Reset()
}

// SingleMemo coalesces and memoizes a single no-argument operation. It is
// [Memo] specialized to one implicit key.
type SingleMemo[S, V any] struct {
	memo *Memo[NoKey, S, V]
}

// NewSingleMemo creates a memoizing executor for a no-argument operation
// that already produces the cached value type.
func NewSingleMemo[V any](cfg ...Config[NoKey, V]) *SingleMemo[V, V] {
	return &SingleMemo[V, V]{memo: NewMemo[NoKey, V](cfg...)}
}

// NewConvertedSingleMemo creates a memoizing executor for a no-argument
// operation whose raw S result convert converts before caching or returning.
func NewConvertedSingleMemo[S, V any](convert Converter[S, V], cfg ...Config[NoKey, V]) *SingleMemo[S, V] {
	return &SingleMemo[S, V]{memo: NewConvertedMemo[NoKey, S, V](convert, cfg...)}
}

// Execute returns the operation's value: from the cache when live, by
// joining an in-flight invocation when one exists, or by invoking fetch and
// caching the converted result.
func (s *SingleMemo[S, V]) Execute(ctx context.Context, fetch func(context.Context) (S, error)) (Result[V], error) {
	return s.memo.Execute(ctx, NoKey{}, noKeyFetch(fetch))
}

// Refresh is Execute without the cache read, as in [Memo.Refresh].
func (s *SingleMemo[S, V]) Refresh(ctx context.Context, fetch func(context.Context) (S, error)) (Result[V], error) {
	return s.memo.Refresh(ctx, NoKey{}, noKeyFetch(fetch))
}

// Cached returns the memoized value, if live.
func (s *SingleMemo[S, V]) Cached() (V, bool) {
	return s.memo.Cache().Get(NoKey{})
}

// Running reports whether an invocation is currently in flight.
func (s *SingleMemo[S, V]) Running() bool {
	return s.memo.Running(NoKey{})
}

// Reset forgets an in-flight invocation and clears the memoized value.
func (s *SingleMemo[S, V]) Reset() {
	s.memo.Reset()
}

// ResetCache clears the memoized value while leaving an in-flight
// invocation joinable.
func (s *SingleMemo[S, V]) ResetCache() {
	s.memo.ResetCache()
}

// Cache exposes the single-entry cache backing this executor.
func (s *SingleMemo[S, V]) Cache() *Cache[NoKey, V] {
	return s.memo.Cache()
}

// Close tears down the cache, as in [Memo.Close].
func (s *SingleMemo[S, V]) Close() error {
	return s.memo.Close()
}

func noKeyFetch[S any](fetch func(context.Context) (S, error)) Fetch[NoKey, S] {
	return func(ctx context.Context, _ NoKey) (S, error) {
		return fetch(ctx)
	}
}
