// Package metrics is the process-wide Prometheus registry and the
// upload/download instrumentation spec.md §4.8 names. Metrics are opt-in:
// until InitRegistry is called, every recorder function is a no-op, so
// code that records metrics unconditionally (pkg/transfer, pkg/protocol)
// carries zero overhead when a deployment doesn't enable them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide registry and enables metric
// recording. Safe to call once at process start; a second call replaces
// the registry (used by tests that want an isolated one per run).
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the process-wide registry. Callers must check
// IsEnabled first; GetRegistry before InitRegistry returns nil.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Reset disables metrics and drops the registry. Exposed for tests that
// run multiple scenarios in one process and need isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
	enabled = false
}
