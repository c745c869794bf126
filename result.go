package serviceconcurrency

// Result is the outcome of a single-key execution.
type Result[V any] struct {
	// Value is the value produced for the key, whether freshly fetched,
	// joined from a concurrent call, or read from cache.
	Value V

	// Changed reports whether this call itself ran the fetch and, for
	// memoizing executors, wrote the cache. Callers that joined an in-flight
	// fetch or were served from cache observe Changed == false.
	Changed bool
}

// BatchResult is the outcome of a batch execution.
type BatchResult[K comparable, V any] struct {
	// Values is the union of the values produced for the requested keys:
	// cache hits, the converted batches of joined in-flight fetches, and the
	// values extracted from this call's own fetch. Joined batches are
	// included whole, so Values may cover more keys than were requested and
	// carries no ordering or per-key association.
	Values []V

	// ChangedKeys lists the keys this call fetched and cached itself. It is
	// empty when every requested key was served from cache or joined from
	// another call, and when this call's own fetch failed.
	ChangedKeys []K
}
