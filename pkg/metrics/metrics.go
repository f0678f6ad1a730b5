// Package metrics provides the centralized Prometheus metrics reference for
// the keycheck engine. All metrics are defined in their respective packages
// (client, limiter, cache, checker) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine. All metrics
// are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Limiter Metrics (pkg/limiter):
//   - keycheck_limiter_in_flight (Gauge): Requests currently holding a concurrency slot
//   - keycheck_limiter_acquires_total (Counter): Concurrency slot acquisitions
//
// Request Metrics (pkg/client):
//   - keycheck_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - keycheck_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - keycheck_errors_total{class} (Counter): Errors by class (http, server, rate_limit, network, protocol)
//
// Retry Metrics (pkg/client):
//   - keycheck_retries_total{error_class} (Counter): Retry attempts by error class
//   - keycheck_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - keycheck_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - keycheck_cache_hits_total (Counter): Outcome cache hits
//   - keycheck_cache_misses_total (Counter): Outcome cache misses
//   - keycheck_cache_errors_total{operation} (Counter): Cache operation errors
//
// Engine Metrics (pkg/checker):
//   - keycheck_batch_fallbacks_total (Counter): Batch requests degraded to per-key checks
//   - keycheck_fallback_keys_total (Counter): Keys resolved through the per-key fallback
//   - keycheck_results_total{status} (Counter): Check results by outcome (available, taken, error)
//   - keycheck_run_duration_seconds (Histogram): Total run duration
//
// Example Prometheus Queries:
//
//   # Batch degradation rate
//   rate(keycheck_batch_fallbacks_total[5m])
//
//   # Cache hit rate
//   sum(rate(keycheck_cache_hits_total[5m])) /
//   (sum(rate(keycheck_cache_hits_total[5m])) + sum(rate(keycheck_cache_misses_total[5m])))
//
//   # Request error rate by class
//   rate(keycheck_errors_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(keycheck_request_duration_seconds_bucket[5m]))
