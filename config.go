package serviceconcurrency

import "time"

// Config carries the optional settings accepted by every executor
// constructor. The zero Config is valid: no expiration, an owned in-memory
// store, and no logging or metrics.
type Config[K comparable, V any] struct {
	// TTL is the sliding expiration window applied by the owned
	// [MemoryStore]: each read of a key restarts its window. Zero means
	// cached values never expire. TTL is ignored when Store is set, since
	// borrowed stores keep their own expiration policy.
	TTL time.Duration

	// Store, if set, backs the cache with an external store borrowed by the
	// executor. Closing the executor removes the entries it wrote but leaves
	// the store itself running. When nil, the executor owns a fresh
	// [MemoryStore] configured with TTL and tears it down on Close.
	Store Store[K, V]

	// OnChange, if set, is invoked after every cache mutation: sets, whether
	// from fetches or manual writes, and removals through Remove, Clear and
	// Close. Entries that quietly expire do not notify. The callback runs on
	// the mutating goroutine with no internal locks held.
	OnChange func(Change[K, V])

	// CopyValues makes cache reads return a deep copy of the stored value,
	// so callers can mutate results without corrupting the cache.
	CopyValues bool

	// Name distinguishes this executor in log output and metric labels.
	Name string

	// Logger receives debug and warning output. Nil disables logging.
	Logger Logger

	// Metrics receives executor and cache metrics. Nil disables metrics.
	Metrics *MetricsCollector
}

func firstConfig[K comparable, V any](cfgs []Config[K, V]) Config[K, V] {
	if len(cfgs) > 0 {
		return cfgs[0]
	}
	var zero Config[K, V]
	return zero
}

// instruments bundles the observability settings threaded through executors
// and caches, with nil-safe logging.
type instruments struct {
	name    string
	log     Logger
	metrics *MetricsCollector
}

func (cfg Config[K, V]) instruments() instruments {
	return instruments{name: cfg.Name, log: cfg.Logger, metrics: cfg.Metrics}
}

// The name is passed as an argument rather than spliced into the format
// string, so names containing % render literally.

func (in instruments) debugf(format string, v ...any) {
	if in.log == nil {
		return
	}
	if in.name != "" {
		in.log.Debugf("%s: "+format, append([]any{in.name}, v...)...)
		return
	}
	in.log.Debugf(format, v...)
}

func (in instruments) warnf(format string, v ...any) {
	if in.log == nil {
		return
	}
	if in.name != "" {
		in.log.Warnf("%s: "+format, append([]any{in.name}, v...)...)
		return
	}
	in.log.Warnf(format, v...)
}
