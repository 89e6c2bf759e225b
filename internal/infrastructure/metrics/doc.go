// Package metrics exposes gateway counters and gauges to Prometheus.
//
// Collectors live on a private registry, so several gateways (or tests)
// can coexist in one process. The HTTP handler is mounted by the api
// package when metrics are enabled:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package metrics
