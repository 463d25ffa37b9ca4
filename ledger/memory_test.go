package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/tokenring/ledger"
	"github.com/MrEthical07/tokenring/ledger/ledgertest"
)

func TestMemoryLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, clock *ledgertest.Clock) ledgertest.Backend {
		return ledger.NewMemoryLedger(clock.Now)
	})
}

func TestMemoryLedgerCanceledContext(t *testing.T) {
	clock := ledgertest.NewClock(time.Unix(1_700_000_000, 0))
	l := ledger.NewMemoryLedger(clock.Now)
	rec := ledger.Record{JTI: "r0", Subject: "1", HashedToken: ledger.HashOf("t"), ExpiresAt: clock.Now().Add(time.Hour)}
	if err := l.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.RotateIfMatches(ctx, ledger.Rotation{
		PreviousJTI:   "r0",
		PresentedHash: ledger.HashOf("t"),
		Next:          ledger.Record{JTI: "r1", Subject: "1", HashedToken: ledger.HashOf("t1"), ExpiresAt: clock.Now().Add(time.Hour)},
	})
	if !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	ok, _ := l.Exists(context.Background(), "r0")
	if !ok {
		t.Fatal("canceled rotation must leave the old record intact")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 live record, got %d", l.Len())
	}
}

func TestFamilyKeyNormalizesDevice(t *testing.T) {
	if got := ledger.FamilyOf("42", ""); got.DeviceID != ledger.DefaultDevice || got.String() != "42:default" {
		t.Fatalf("unexpected family: %+v", got)
	}
	if got := ledger.FamilyOf("42", "phone").String(); got != "42:phone" {
		t.Fatalf("unexpected family string: %s", got)
	}
}

func TestHashOfIsStable(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ledger.HashOf("abc").String(); got != want {
		t.Fatalf("HashOf = %s, want %s", got, want)
	}
}
