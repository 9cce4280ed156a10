// Package metrics exposes the Prometheus registry used by the sync engine.
// All metrics are defined in their respective packages (client, cache,
// query, push, poll) to keep packages independent; this package documents
// them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers into via promauto.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - portal_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - portal_request_duration_seconds{method} (Histogram): Request duration
//   - portal_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, envelope, protocol)
//
// Retry Metrics (pkg/client):
//   - portal_retries_total{error_class} (Counter): Retry attempts by error class
//   - portal_retry_backoff_seconds{error_class} (Histogram): Wait before each retry
//   - portal_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Validator Metrics (pkg/cache):
//   - portal_validator_hits_total{store} (Counter): ETag lookups that found an entry
//   - portal_validator_misses_total (Counter): ETag lookups without an entry
//   - portal_validator_entries{store} (Gauge): Entries in the in-memory store
//   - portal_conditional_requests_total (Counter): Requests sent with If-None-Match
//   - portal_not_modified_total (Counter): 304 responses served from the validator store
//   - portal_validator_errors_total{operation} (Counter): Validator store errors
//
// Query Cache Metrics (pkg/query):
//   - portal_query_entries (Gauge): Cached query results
//   - portal_query_writes_total{op} (Counter): Writes that changed stored data
//   - portal_query_invalidations_total{family} (Counter): Family invalidations
//
// Push Metrics (pkg/push):
//   - portal_push_state (Gauge): 1=connecting, 2=open, 3=closed
//   - portal_push_reconnects_total (Counter): Scheduled reconnects
//   - portal_push_deltas_total{family, action} (Counter): Applied deltas
//   - portal_push_dropped_total{reason} (Counter): Dropped inbound frames
//   - portal_push_reconciles_total{family} (Counter): Deltas that forced a refetch
//
// Poll Metrics (pkg/poll):
//   - portal_poll_refresh_total{family, result} (Counter): Polled refreshes
//
// Example Prometheus Queries:
//
//   # Revalidation rate
//   rate(portal_not_modified_total[5m]) / rate(portal_requests_total{method="GET"}[5m])
//
//   # Push channel down
//   portal_push_state != 2
//
//   # Reconcile rate per family
//   rate(portal_push_reconciles_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(portal_request_duration_seconds_bucket[5m]))
