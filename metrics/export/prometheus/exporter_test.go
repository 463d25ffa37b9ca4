package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/tokenring"
	"github.com/MrEthical07/tokenring/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot tokenring.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokenring.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokenring.MetricsSnapshot{
			Counters:   map[tokenring.MetricID]uint64{},
			Histograms: map[tokenring.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderLabelledFamilies(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokenring.MetricsSnapshot{
			Counters: map[tokenring.MetricID]uint64{
				tokenring.MetricRefreshFailure:       9,
				tokenring.MetricRefreshReuseDetected: 7,
			},
			Histograms: map[tokenring.MetricID][]uint64{
				tokenring.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			Failures: map[tokenring.FailureKey]uint64{
				{Op: tokenring.OpRefresh, Kind: tokenring.KindReuseDetected}:      7,
				{Op: tokenring.OpRefresh, Kind: tokenring.KindBackendUnavailable}: 2,
			},
			LedgerErrors: map[tokenring.LedgerOp]uint64{tokenring.LedgerRotate: 2},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE tokenring_operations_total counter",
		`tokenring_operations_total{op="refresh",outcome="reuse_detected"} 7`,
		`tokenring_operations_total{op="refresh",outcome="error"} 2`,
		`tokenring_operations_total{op="issue",outcome="success"} 0`,
		`tokenring_failures_total{op="refresh",kind="reuse_detected"} 7`,
		`tokenring_failures_total{op="refresh",kind="backend_unavailable"} 2`,
		`tokenring_ledger_errors_total{op="rotate"} 2`,
		`tokenring_ledger_errors_total{op="store"} 0`,
		"# TYPE tokenring_latency_seconds histogram",
		`tokenring_latency_seconds_bucket{op="verify",le="0.0001"} 1`,
		`tokenring_latency_seconds_bucket{op="verify",le="+Inf"} 36`,
		`tokenring_latency_seconds_count{op="verify"} 36`,
		"tokenring_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, `op="refresh",le=`) {
		t.Fatalf("refresh latency was not recorded and must not render:\n%s", out)
	}
	if strings.Contains(out, `kind="expired"`) {
		t.Fatalf("unobserved failure kinds must not render:\n%s", out)
	}
}

func TestRenderFamilyOrderFollowsDefs(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokenring.MetricsSnapshot{Counters: map[tokenring.MetricID]uint64{tokenring.MetricIssueSuccess: 1}},
	})
	out := exp.Render()

	last := -1
	for _, def := range internaldefs.Defs {
		idx := strings.Index(out, "# TYPE "+def.Name+" ")
		if idx < 0 {
			t.Fatalf("family %s missing:\n%s", def.Name, out)
		}
		if idx < last {
			t.Fatalf("family %s rendered out of order", def.Name)
		}
		last = idx
	}
}

func TestEscapeLabel(t *testing.T) {
	if got := escapeLabel("a\"b\\c\nd"); got != `a\"b\\c\nd` {
		t.Fatalf("escapeLabel = %q", got)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokenring.MetricsSnapshot{
			Counters:   map[tokenring.MetricID]uint64{tokenring.MetricIssueSuccess: 1},
			Histograms: map[tokenring.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tokenring_operations_total{op="issue",outcome="success"} 1`) {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tokenring.MetricsSnapshot{
			Counters: map[tokenring.MetricID]uint64{
				tokenring.MetricIssueSuccess:   1000,
				tokenring.MetricRefreshSuccess: 800,
				tokenring.MetricRefreshFailure: 10,
				tokenring.MetricVerifySuccess:  90000,
				tokenring.MetricLogout:         20,
			},
			Histograms: map[tokenring.MetricID][]uint64{
				tokenring.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
			Failures: map[tokenring.FailureKey]uint64{
				{Op: tokenring.OpRefresh, Kind: tokenring.KindExpired}: 10,
			},
		},
	})

	b.ReportAllocs()
	for b.Loop() {
		_ = exp.Render()
	}
}
