// Package metrics provides Prometheus metrics collection for shardfs
// components.
//
// All metrics are optional: if InitRegistry is never called, the
// constructors return no-op implementations with zero overhead, so
// components take a metrics interface and never care whether collection
// is enabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry for all shardfs metrics.
	// Write-once via registryOnce, read-many afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Must be
// called before creating metrics instances; safe to call more than
// once.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}
