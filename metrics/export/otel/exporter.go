package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/tokenring"
	"github.com/MrEthical07/tokenring/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() tokenring.MetricsSnapshot
	AuditDropped() uint64
}

// family holds the instruments for one internaldefs.Def. Counter families
// use counter. Histogram families use bucket (labelled with le) and count.
type family struct {
	counter metric.Int64ObservableCounter
	bucket  metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine snapshots through observable instruments.
// Every family from internaldefs becomes one instrument whose data points
// carry the family labels as attributes.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []family
}

func NewOTelExporter(meter metric.Meter, engine *tokenring.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:   source,
		families: make([]family, len(internaldefs.Defs)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.Defs)+1)

	for i, def := range internaldefs.Defs {
		if def.Type == internaldefs.Counter {
			ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
			}
			exporter.families[i].counter = ins
			observables = append(observables, ins)
			continue
		}

		bucket, err := meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative bucket counts."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		exporter.families[i].bucket = bucket
		exporter.families[i].count = count
		observables = append(observables, bucket, count)
	}

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	fams := internaldefs.Collect(e.source.MetricsSnapshot(), e.source.AuditDropped())
	for i, fam := range fams {
		ins := e.families[i]
		for _, s := range fam.Samples {
			attrs := attributes(s.Labels)
			if fam.Type == internaldefs.Counter {
				observer.ObserveInt64(ins.counter, int64(s.Value), metric.WithAttributes(attrs...))
				continue
			}
			for b, le := range internaldefs.BoundLabels {
				withLE := append(attrs[:len(attrs):len(attrs)], attribute.String("le", le))
				observer.ObserveInt64(ins.bucket, int64(s.Buckets[b]), metric.WithAttributes(withLE...))
			}
			observer.ObserveInt64(ins.count, int64(s.Value), metric.WithAttributes(attrs...))
		}
	}
	return nil
}

func attributes(labels []internaldefs.Label) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(labels))
	for i, l := range labels {
		out[i] = attribute.String(l.Name, l.Value)
	}
	return out
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
