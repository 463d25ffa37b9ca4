package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/tokenring"
	"github.com/MrEthical07/tokenring/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() tokenring.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition
// format without a client library registry.
type PrometheusExporter struct {
	source metricsSource
}

func NewPrometheusExporter(engine *tokenring.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from anything that exposes a
// snapshot, which is how tests feed fixed values.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled and
// nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)
	for _, fam := range internaldefs.Collect(snapshot, dropped) {
		writeFamily(&b, fam)
	}
	return b.String()
}

func writeFamily(b *strings.Builder, fam internaldefs.Family) {
	kind := "counter"
	if fam.Type == internaldefs.Histogram {
		kind = "histogram"
	}
	b.WriteString("# HELP ")
	b.WriteString(fam.Name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(fam.Help))
	b.WriteString("\n# TYPE ")
	b.WriteString(fam.Name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')

	for _, s := range fam.Samples {
		if fam.Type == internaldefs.Counter {
			writeSample(b, fam.Name, s.Labels, s.Value)
			continue
		}
		// No _sum: the engine records bucket counts only.
		for i, le := range internaldefs.BoundLabels {
			labels := append(s.Labels[:len(s.Labels):len(s.Labels)], internaldefs.Label{Name: "le", Value: le})
			writeSample(b, fam.Name+"_bucket", labels, s.Buckets[i])
		}
		writeSample(b, fam.Name+"_count", s.Labels, s.Value)
	}
}

func writeSample(b *strings.Builder, name string, labels []internaldefs.Label, value uint64) {
	b.WriteString(name)
	if len(labels) > 0 {
		b.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(l.Name)
			b.WriteString("=\"")
			b.WriteString(escapeLabel(l.Value))
			b.WriteByte('"')
		}
		b.WriteByte('}')
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

var (
	helpEscaper  = strings.NewReplacer("\\", "\\\\", "\n", "\\n")
	labelEscaper = strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\"", "\\\"")
)

func escapeHelp(help string) string { return helpEscaper.Replace(help) }

func escapeLabel(v string) string { return labelEscaper.Replace(v) }
