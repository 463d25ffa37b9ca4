package tokenring

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or latency histogram kept by the Engine.
type MetricID uint16

const (
	MetricIssueSuccess MetricID = iota
	MetricIssueFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshRejected
	MetricVerifySuccess
	MetricVerifyFailure
	MetricLogout
	MetricLogoutNoop
	MetricLedgerError
	MetricVerifyLatency
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets. The last
// bucket is unbounded. Verification runs in microseconds, so the low end is
// sub-millisecond.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	100 * time.Microsecond,
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	5 * time.Millisecond,
	25 * time.Millisecond,
	100 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Operation names an Engine entry point for failure accounting.
type Operation uint8

const (
	OpIssue Operation = iota
	OpVerify
	OpRefresh
	OpLogout
	operationCount
)

var operationNames = [operationCount]string{"issue", "verify", "refresh", "logout"}

func (o Operation) String() string {
	if o >= operationCount {
		return "unknown"
	}
	return operationNames[o]
}

// LedgerOp names the ledger call that failed.
type LedgerOp uint8

const (
	LedgerStore LedgerOp = iota
	LedgerRotate
	LedgerInvalidate
	LedgerInvalidateFamily
	ledgerOpCount
)

var ledgerOpNames = [ledgerOpCount]string{"store", "rotate", "invalidate", "invalidate_family"}

func (o LedgerOp) String() string {
	if o >= ledgerOpCount {
		return "unknown"
	}
	return ledgerOpNames[o]
}

// FailureKey indexes MetricsSnapshot.Failures.
type FailureKey struct {
	Op   Operation
	Kind ErrorKind
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores all
// writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
	failures      [operationCount][errorKindCount]paddedCounter
	ledgerErrors  [ledgerOpCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters and, when latency
// histograms are enabled, the per-bucket (non-cumulative) histogram counts.
// Failures holds only the (operation, kind) pairs seen so far.
type MetricsSnapshot struct {
	Counters     map[MetricID]uint64
	Histograms   map[MetricID][]uint64
	Failures     map[FailureKey]uint64
	LedgerErrors map[LedgerOp]uint64
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:     map[MetricID]uint64{},
		Histograms:   map[MetricID][]uint64{},
		Failures:     map[FailureKey]uint64{},
		LedgerErrors: map[LedgerOp]uint64{},
	}
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Fail counts a failed op classified as kind.
func (m *Metrics) Fail(op Operation, kind ErrorKind) {
	if m == nil || !m.enabled || op >= operationCount || kind < 0 || int(kind) >= errorKindCount {
		return
	}
	atomic.AddUint64(&m.failures[op][kind].value, 1)
}

// LedgerFailed counts a backend failure of op, along with MetricLedgerError.
func (m *Metrics) LedgerFailed(op LedgerOp) {
	if m == nil || !m.enabled || op >= ledgerOpCount {
		return
	}
	atomic.AddUint64(&m.ledgerErrors[op].value, 1)
	atomic.AddUint64(&m.counters[MetricLedgerError].value, 1)
}

// Observe records d in the histogram for id. Only the latency IDs carry
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isLatencyMetric(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:     make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:   make(map[MetricID][]uint64, 2),
		Failures:     make(map[FailureKey]uint64),
		LedgerErrors: make(map[LedgerOp]uint64, int(ledgerOpCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	for op := Operation(0); op < operationCount; op++ {
		for kind := range m.failures[op] {
			if v := atomic.LoadUint64(&m.failures[op][kind].value); v > 0 {
				s.Failures[FailureKey{Op: op, Kind: ErrorKind(kind)}] = v
			}
		}
	}
	for op := LedgerOp(0); op < ledgerOpCount; op++ {
		s.LedgerErrors[op] = atomic.LoadUint64(&m.ledgerErrors[op].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricVerifyLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

func isLatencyMetric(id MetricID) bool {
	return id == MetricVerifyLatency || id == MetricRefreshLatency
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
