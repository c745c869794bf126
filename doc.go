/*
Package serviceconcurrency coalesces concurrent invocations of expensive
operations and memoizes their results in expiring caches.

Executors pair duplicate call suppression with optional caching across three
axes: keyed or no-key operations, cached or uncached results, and single-key
or batch fetches. While a fetch for a key is in flight, every concurrent
caller of that key joins it and shares its outcome; memoizing executors then
serve the cached value until it expires after sitting unread for the
configured sliding window.

[Flight], [BatchFlight] and [Single] coalesce without caching. [Memo],
[BatchMemo] and [SingleMemo] add the cache, a pluggable [Store] behind it,
manual access through [Cache], converters for fetches whose raw results need
reshaping, and change notifications. Results carry provenance: Changed and
ChangedKeys identify the caller whose fetch actually ran, letting callers
distinguish fresh data from shared or remembered data.

Batch executors partition each requested key set against the in-flight ones,
fetching only keys nobody else holds, so a key is fetched at most once across
any number of overlapping batches.
*/
package serviceconcurrency
