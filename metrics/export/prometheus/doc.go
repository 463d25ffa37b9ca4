// Package prometheus renders tokenring engine metrics in the Prometheus text
// format.
//
// Series are labelled rather than one name per counter:
// tokenring_operations_total{op,outcome}, tokenring_failures_total{op,kind},
// tokenring_ledger_errors_total{op} and the tokenring_latency_seconds{op}
// histogram.
//
// The exporter never registers with a global registry; callers mount
// Handler themselves.
package prometheus
