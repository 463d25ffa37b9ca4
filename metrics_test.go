package tokenring

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricIssueSuccess)

	if got := m.Value(MetricIssueSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		50 * time.Microsecond,
		250 * time.Microsecond,
		400 * time.Microsecond,
		time.Millisecond,
		3 * time.Millisecond,
		25 * time.Millisecond,
		60 * time.Millisecond,
		time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricVerifyLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricVerifyLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricIssueSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricIssueSuccess]; ok {
		t.Fatalf("counter id must not carry a histogram")
	}
	if _, ok := snap.Counters[MetricVerifyLatency]; ok {
		t.Fatalf("latency id must not appear as a counter")
	}
}

func TestMetricsLatencyRequiresOptIn(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricRefreshLatency, time.Millisecond)

	if len(m.Snapshot().Histograms) != 0 {
		t.Fatalf("expected no histograms without opt-in")
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricVerifySuccess)
		}
	})
}

func TestMetricsFailuresByOperationAndKind(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Fail(OpRefresh, KindReuseDetected)
	m.Fail(OpRefresh, KindReuseDetected)
	m.Fail(OpVerify, KindExpired)
	m.Fail(Operation(99), KindExpired)
	m.Fail(OpVerify, ErrorKind(-1))
	m.LedgerFailed(LedgerRotate)
	m.LedgerFailed(LedgerOp(42))

	snap := m.Snapshot()
	if got := snap.Failures[FailureKey{Op: OpRefresh, Kind: KindReuseDetected}]; got != 2 {
		t.Fatalf("refresh reuse failures = %d, want 2", got)
	}
	if got := snap.Failures[FailureKey{Op: OpVerify, Kind: KindExpired}]; got != 1 {
		t.Fatalf("verify expired failures = %d, want 1", got)
	}
	if len(snap.Failures) != 2 {
		t.Fatalf("only observed pairs belong in the snapshot, got %v", snap.Failures)
	}
	if snap.LedgerErrors[LedgerRotate] != 1 || snap.Counters[MetricLedgerError] != 1 {
		t.Fatalf("ledger errors = %v, total %d", snap.LedgerErrors, snap.Counters[MetricLedgerError])
	}
	if len(snap.LedgerErrors) != int(ledgerOpCount) {
		t.Fatalf("every ledger op is reported, got %v", snap.LedgerErrors)
	}
	if OpLogout.String() != "logout" || LedgerInvalidateFamily.String() != "invalidate_family" || Operation(9).String() != "unknown" {
		t.Fatalf("unexpected operation names")
	}
}
