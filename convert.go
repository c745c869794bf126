package serviceconcurrency

// Converter transforms a raw fetched value into the value type exposed to
// callers and stored in the cache. Converters run on the calling goroutine
// and must be safe for concurrent use, since every caller that joins an
// in-flight fetch converts the shared raw result independently.
type Converter[S, V any] func(S) V

// Identity is the [Converter] for executors whose fetch already produces the
// exposed value type.
func Identity[V any](v V) V { return v }

// Extractor selects the element of a converted batch that belongs to key.
// Batch fetches return one slice covering many keys, so memoizing executors
// need an Extractor to know which element to cache under which key.
type Extractor[K comparable, V any] func(key K, batch []V) V
