package serviceconcurrency

import (
	"fmt"
	"runtime"
)

var (
	// Version is the library semantic version (overridable via -ldflags).
	Version = "v1.0.0"
	// GitCommit is the git SHA (inject via -ldflags at build time).
	GitCommit = "unknown"
	// GoVersion records the Go toolchain version used.
	GoVersion = runtime.Version()
)

// VersionString returns a human-readable version string.
func VersionString() string {
	return fmt.Sprintf("serviceconcurrency %s (commit: %s, go: %s)", Version, GitCommit, GoVersion)
}
