package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tokenring"
)

type raceOptions struct {
	sessions    int
	racers      int
	concurrency int
	verifyOps   int
}

type sessionOutcome struct {
	winners int
	reuse   int
	other   int
}

type raceReport struct {
	outcomes     []sessionOutcome
	refreshStats phaseStats
	verifyStats  phaseStats
}

// badSessions returns the indices of sessions that did not have exactly one
// winning refresh.
func (r raceReport) badSessions() []int {
	var bad []int
	for i, o := range r.outcomes {
		if o.winners != 1 || o.other != 0 {
			bad = append(bad, i)
		}
	}
	return bad
}

// runRace issues opts.sessions pairs, then for every session fires
// opts.racers concurrent refreshes of the same token.
func runRace(ctx context.Context, engine *tokenring.Engine, opts raceOptions) (raceReport, error) {
	pairs := make([]tokenring.IssuedTokenPair, opts.sessions)
	for i := range pairs {
		p := tokenring.Principal{
			UserID:      int64(i + 1),
			Email:       fmt.Sprintf("user%d@loadtest.local", i+1),
			Authorities: []string{"ROLE_USER"},
		}
		pair, err := engine.Issue(ctx, p, fmt.Sprintf("device-%d", i))
		if err != nil {
			return raceReport{}, fmt.Errorf("issue session %d: %w", i, err)
		}
		pairs[i] = pair
	}

	report := raceReport{outcomes: make([]sessionOutcome, opts.sessions)}
	report.refreshStats = runRefreshPhase(ctx, engine, pairs, report.outcomes, opts)
	report.verifyStats = runVerifyPhase(engine, pairs, opts)
	return report, nil
}

func runRefreshPhase(ctx context.Context, engine *tokenring.Engine, pairs []tokenring.IssuedTokenPair, outcomes []sessionOutcome, opts raceOptions) phaseStats {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(pairs)*opts.racers)
		failures  int64
		sem       = make(chan struct{}, opts.concurrency)
	)

	start := time.Now()
	for i := range pairs {
		for r := 0; r < opts.racers; r++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()

				t0 := time.Now()
				_, err := engine.Refresh(ctx, pairs[i].RefreshToken)
				d := time.Since(t0)

				mu.Lock()
				defer mu.Unlock()
				latencies = append(latencies, d)
				switch {
				case err == nil:
					outcomes[i].winners++
				case errors.Is(err, tokenring.ErrReuseDetected):
					outcomes[i].reuse++
				default:
					outcomes[i].other++
					atomic.AddInt64(&failures, 1)
				}
			}(i)
		}
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runVerifyPhase(engine *tokenring.Engine, pairs []tokenring.IssuedTokenPair, opts raceOptions) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.verifyOps)
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.verifyOps {
					return
				}
				t0 := time.Now()
				_, err := engine.VerifyAccess(pairs[i%len(pairs)].AccessToken)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func (s phaseStats) String() string {
	return fmt.Sprintf("ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s",
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
