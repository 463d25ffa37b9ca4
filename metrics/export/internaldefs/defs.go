package internaldefs

import (
	"sort"
	"strconv"

	"github.com/MrEthical07/tokenring"
)

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(tokenring.HistogramBounds) + 1

type Type uint8

const (
	Counter Type = iota
	Histogram
)

// Def describes a family. Exporters register instruments from Defs before the
// first collection.
type Def struct {
	Name   string
	Help   string
	Type   Type
	Labels []string
}

type Label struct {
	Name  string
	Value string
}

// Sample is one labelled series. Counters use Value. Histograms use Buckets,
// cumulative, with the last entry equal to the sample count.
type Sample struct {
	Labels  []Label
	Value   uint64
	Buckets [BucketCount]uint64
}

type Family struct {
	Def
	Samples []Sample
}

const (
	Operations   = "tokenring_operations_total"
	Failures     = "tokenring_failures_total"
	LedgerErrors = "tokenring_ledger_errors_total"
	Latency      = "tokenring_latency_seconds"
	AuditDropped = "tokenring_audit_dropped_total"
)

// Defs lists every family in render order.
var Defs = []Def{
	{Name: Operations, Help: "Engine operations by outcome.", Type: Counter, Labels: []string{"op", "outcome"}},
	{Name: Failures, Help: "Failed engine operations by error kind.", Type: Counter, Labels: []string{"op", "kind"}},
	{Name: LedgerErrors, Help: "Ledger backend failures by ledger call.", Type: Counter, Labels: []string{"op"}},
	{Name: Latency, Help: "Verify and refresh latency.", Type: Histogram, Labels: []string{"op"}},
	{Name: AuditDropped, Help: "Audit events dropped because the dispatcher buffer was full.", Type: Counter},
}

// LedgerOps are the ledger calls reported under LedgerErrors, in order.
var LedgerOps = []tokenring.LedgerOp{
	tokenring.LedgerStore,
	tokenring.LedgerRotate,
	tokenring.LedgerInvalidate,
	tokenring.LedgerInvalidateFamily,
}

var latencyOps = []struct {
	op string
	id tokenring.MetricID
}{
	{"verify", tokenring.MetricVerifyLatency},
	{"refresh", tokenring.MetricRefreshLatency},
}

// BoundLabels are the bucket upper bounds in seconds, ending with "+Inf".
var BoundLabels = boundLabels()

func boundLabels() [BucketCount]string {
	var out [BucketCount]string
	for i, d := range tokenring.HistogramBounds {
		out[i] = strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	}
	out[BucketCount-1] = "+Inf"
	return out
}

// Collect builds one Family per Def from s.
func Collect(s tokenring.MetricsSnapshot, auditDropped uint64) []Family {
	out := make([]Family, len(Defs))
	for i, def := range Defs {
		out[i].Def = def
		switch def.Name {
		case Operations:
			out[i].Samples = operations(s)
		case Failures:
			out[i].Samples = failures(s)
		case LedgerErrors:
			out[i].Samples = ledgerErrors(s)
		case Latency:
			out[i].Samples = latency(s)
		case AuditDropped:
			out[i].Samples = []Sample{{Value: auditDropped}}
		}
	}
	return out
}

func opSample(op, outcome string, v uint64) Sample {
	return Sample{Labels: []Label{{"op", op}, {"outcome", outcome}}, Value: v}
}

func operations(s tokenring.MetricsSnapshot) []Sample {
	c := s.Counters
	refreshFailed := c[tokenring.MetricRefreshFailure]
	reuse := c[tokenring.MetricRefreshReuseDetected]
	rejected := c[tokenring.MetricRefreshRejected]

	var logoutErrors uint64
	for k, v := range s.Failures {
		if k.Op == tokenring.OpLogout {
			logoutErrors += v
		}
	}

	return []Sample{
		opSample("issue", "success", c[tokenring.MetricIssueSuccess]),
		opSample("issue", "error", c[tokenring.MetricIssueFailure]),
		opSample("verify", "success", c[tokenring.MetricVerifySuccess]),
		opSample("verify", "error", c[tokenring.MetricVerifyFailure]),
		opSample("refresh", "success", c[tokenring.MetricRefreshSuccess]),
		opSample("refresh", "reuse_detected", reuse),
		opSample("refresh", "rejected", rejected),
		opSample("refresh", "error", saturatingSub(refreshFailed, reuse+rejected)),
		opSample("logout", "revoked", c[tokenring.MetricLogout]),
		opSample("logout", "noop", c[tokenring.MetricLogoutNoop]),
		opSample("logout", "error", logoutErrors),
	}
}

// Counters are read one by one, so a snapshot taken mid-refresh can see the
// reuse increment before the failure increment.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func failures(s tokenring.MetricsSnapshot) []Sample {
	keys := make([]tokenring.FailureKey, 0, len(s.Failures))
	for k := range s.Failures {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Op != keys[j].Op {
			return keys[i].Op < keys[j].Op
		}
		return keys[i].Kind < keys[j].Kind
	})

	out := make([]Sample, 0, len(keys))
	for _, k := range keys {
		out = append(out, Sample{
			Labels: []Label{{"op", k.Op.String()}, {"kind", k.Kind.String()}},
			Value:  s.Failures[k],
		})
	}
	return out
}

func ledgerErrors(s tokenring.MetricsSnapshot) []Sample {
	out := make([]Sample, 0, len(LedgerOps))
	for _, op := range LedgerOps {
		out = append(out, Sample{Labels: []Label{{"op", op.String()}}, Value: s.LedgerErrors[op]})
	}
	return out
}

// latency is empty unless the engine records latency histograms.
func latency(s tokenring.MetricsSnapshot) []Sample {
	var out []Sample
	for _, l := range latencyOps {
		raw, ok := s.Histograms[l.id]
		if !ok {
			continue
		}
		var running uint64
		var buckets [BucketCount]uint64
		for i := range buckets {
			if i < len(raw) {
				running += raw[i]
			}
			buckets[i] = running
		}
		out = append(out, Sample{Labels: []Label{{"op", l.op}}, Value: running, Buckets: buckets})
	}
	return out
}
