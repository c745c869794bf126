package serviceconcurrency

// Logger receives debug and warning output from executors and caches.
// Implementations must be safe for concurrent use. Both *apex/log.Logger and
// apex/log.Log satisfy Logger directly.
type Logger interface {
	Debugf(format string, v ...any)
	Warnf(format string, v ...any)
}
