// Package otel binds tokenring engine metrics to an OpenTelemetry Meter.
//
// One callback reads Engine.MetricsSnapshot per collection cycle. The caller
// owns the MeterProvider.
package otel
