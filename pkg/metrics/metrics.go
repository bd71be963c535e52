// Package metrics exposes the Prometheus metrics of the aPaaS client.
// All metrics are defined in their respective packages (transport, auth,
// ratelimit, cache) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP handler and a reference of all series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler exposing every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - apaas_requests_total{route, status} (Counter): Requests by route and HTTP status or application code
//   - apaas_request_duration_seconds{route} (Histogram): Request duration by route
//   - apaas_errors_total{class} (Counter): Errors by class (network, http, decode, application)
//
// Token Metrics (pkg/auth):
//   - apaas_token_exchanges_total{result} (Counter): Credential exchanges by result (success, rejected, error)
//   - apaas_token_remaining_seconds (Gauge): Validity of the cached token at the last exchange
//
// Rate Limit Metrics (pkg/ratelimit):
//   - apaas_ratelimit_reservoir (Gauge): Permits left in the current window
//   - apaas_ratelimit_queue_depth (Gauge): Operations waiting for dispatch
//   - apaas_ratelimit_dispatches_total (Counter): Operations dispatched
//   - apaas_ratelimit_wait_seconds (Histogram): Time between scheduling and dispatch
//
// Cache Metrics (pkg/cache):
//   - apaas_metadata_cache_hits_total (Counter): Metadata cache hits
//   - apaas_metadata_cache_misses_total (Counter): Metadata cache misses
//   - apaas_metadata_cache_written_bytes_total (Counter): Bytes written to Redis
//   - apaas_metadata_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Metadata Cache Hit Rate
//   sum(rate(apaas_metadata_cache_hits_total[5m])) /
//   (sum(rate(apaas_metadata_cache_hits_total[5m])) + sum(rate(apaas_metadata_cache_misses_total[5m])))
//
//   # Queue Backlog
//   apaas_ratelimit_queue_depth > 10
//
//   # Application Error Rate
//   rate(apaas_errors_total{class="application"}[5m])
//
//   # P95 Time Spent Waiting For A Permit
//   histogram_quantile(0.95, rate(apaas_ratelimit_wait_seconds_bucket[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(apaas_request_duration_seconds_bucket[5m]))
