// Package internaldefs turns an engine MetricsSnapshot into labelled metric
// families. The Prometheus and OTel exporters both render what Collect
// returns, so they expose the same series under the same names.
package internaldefs
