// Package metrics provides optional Prometheus metrics for dittonet
// components.
//
// Components accept metrics interfaces and fall back to no-op
// implementations when given nil, so the framework runs the same with or
// without a registry.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewTCPMetrics()
//	srv, err := server.New(cfg, loops, m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls are ignored.
//
// Until it is called, GetRegistry returns nil and metrics constructors
// return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
