// Command tokenring-benchcheck compares two `go test -bench` outputs and
// fails when a tracked benchmark's median regresses past the threshold.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	tokenring-benchcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const defaultThreshold = 0.30

// tracked lists the engine benchmarks and the units compared for each.
var tracked = map[string][]string{
	"BenchmarkVerifyAccess": {"ns/op", "allocs/op"},
	"BenchmarkIssue":        {"ns/op"},
	"BenchmarkRefresh":      {"ns/op"},
}

// samples is benchmark name -> unit -> one value per run.
type samples map[string]map[string][]float64

type comparison struct {
	benchmark string
	unit      string
	base      float64
	candidate float64
	delta     float64
}

func main() {
	var (
		baselinePath  = flag.String("baseline", "", "baseline benchmark output")
		candidatePath = flag.String("candidate", "", "candidate benchmark output")
		threshold     = flag.Float64("threshold", defaultThreshold, "allowed regression ratio (0.30 = +30%)")
	)
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(*candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidate: %v\n", err)
		os.Exit(1)
	}

	results, failures := compare(baseline, candidate, *threshold)
	for _, r := range results {
		fmt.Printf("%-24s %-10s %12.2f %12.2f %+7.2f%%\n", r.benchmark, r.unit, r.base, r.candidate, r.delta*100)
	}
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "regressions:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

func parseFile(path string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

// parse reads benchmark result lines, ignoring everything else and any
// benchmark that is not tracked.
func parse(r io.Reader) (samples, error) {
	out := samples{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcs(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		if out[name] == nil {
			out[name] = map[string][]float64{}
		}
		// fields[1] is the iteration count; value/unit pairs follow.
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			out[name][fields[i+1]] = append(out[name][fields[i+1]], v)
		}
	}
	return out, sc.Err()
}

func compare(baseline, candidate samples, threshold float64) ([]comparison, []string) {
	names := make([]string, 0, len(tracked))
	for name := range tracked {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		results  []comparison
		failures []string
	)
	for _, name := range names {
		for _, unit := range tracked[name] {
			b, c := baseline[name][unit], candidate[name][unit]
			if len(b) == 0 || len(c) == 0 {
				failures = append(failures, fmt.Sprintf("%s %s: missing samples", name, unit))
				continue
			}
			bm, cm := median(b), median(c)
			if bm <= 0 {
				// allocs/op of zero can only stay zero.
				if cm > 0 {
					failures = append(failures, fmt.Sprintf("%s %s: %.0f, baseline was 0", name, unit, cm))
				}
				results = append(results, comparison{benchmark: name, unit: unit, base: bm, candidate: cm})
				continue
			}
			r := comparison{benchmark: name, unit: unit, base: bm, candidate: cm, delta: (cm - bm) / bm}
			results = append(results, r)
			if r.delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s regressed %+.2f%% (limit %+.2f%%)", name, unit, r.delta*100, threshold*100))
			}
		}
	}
	return results, failures
}

// trimProcs drops the -GOMAXPROCS suffix from a benchmark name.
func trimProcs(raw string) string {
	if i := strings.LastIndexByte(raw, '-'); i > 0 {
		if _, err := strconv.Atoi(raw[i+1:]); err == nil {
			return raw[:i]
		}
	}
	return raw
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
