package tokenring

import (
	"context"
	"testing"

	"github.com/MrEthical07/tokenring/ledger"
)

func newBenchEngine(b *testing.B) *Engine {
	b.Helper()
	cfg := DefaultConfig()
	cfg.Keys.Secrets = map[string]string{cfg.Keys.ActiveKID: testSecretA}
	e, err := New().WithConfig(cfg).WithLedger(ledger.NewMemoryLedger(nil)).Build()
	if err != nil {
		b.Fatalf("build: %v", err)
	}
	b.Cleanup(e.Close)
	return e
}

var benchPrincipal = Principal{UserID: 42, Email: "bench@example.com", Authorities: []string{"ROLE_USER"}}

func BenchmarkIssue(b *testing.B) {
	e := newBenchEngine(b)
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		if _, err := e.Issue(ctx, benchPrincipal, "bench-device"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerifyAccess(b *testing.B) {
	e := newBenchEngine(b)
	pair, err := e.Issue(context.Background(), benchPrincipal, "bench-device")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := e.VerifyAccess(pair.AccessToken); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	e := newBenchEngine(b)
	ctx := context.Background()
	pair, err := e.Issue(ctx, benchPrincipal, "bench-device")
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		pair, err = e.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			b.Fatal(err)
		}
	}
}
