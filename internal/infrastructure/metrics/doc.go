// Package metrics exposes service metrics in the Prometheus format.
//
// A Collector owns a private registry rather than the global default, so
// tests can create as many as they need. It satisfies coordinator.Metrics
// and is served on /metrics by the API server.
package metrics
