package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/tokenring/ledger"
	"github.com/MrEthical07/tokenring/ledger/ledgertest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLedgerTest(t *testing.T, clock *ledgertest.Clock) (*ledger.RedisLedger, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock.OnAdvance(mr.FastForward)
	return ledger.NewRedisLedger(rdb, ledger.RedisConfig{Now: clock.Now}), mr
}

func TestRedisLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, clock *ledgertest.Clock) ledgertest.Backend {
		l, _ := newRedisLedgerTest(t, clock)
		return l
	})
}

func TestRedisLedgerKeyLayout(t *testing.T) {
	clock := ledgertest.NewClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLedgerTest(t, clock)

	rec := ledger.Record{
		JTI:         "abc",
		Subject:     "42",
		DeviceID:    "phone",
		HashedToken: ledger.HashOf("token"),
		ExpiresAt:   clock.Now().Add(90 * time.Second),
	}
	if err := l.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := mr.Get("auth:refresh:jwt:rt:abc")
	if err != nil {
		t.Fatalf("record key missing: %v", err)
	}
	if got != ledger.HashOf("token").String() {
		t.Fatalf("record must hold the hex hash only, got %q", got)
	}
	if fam, _ := mr.Get("auth:refresh:lookup:abc"); fam != "auth:refresh:family:42:phone" {
		t.Fatalf("unexpected lookup value %q", fam)
	}
	if ok, _ := mr.SIsMember("auth:refresh:family:42:phone", "abc"); !ok {
		t.Fatal("jti must be indexed in its family")
	}
	if ttl := mr.TTL("auth:refresh:jwt:rt:abc"); ttl != 90*time.Second {
		t.Fatalf("record ttl = %v, want 90s", ttl)
	}
}

func TestRedisLedgerFamilyTTLOnlyExtends(t *testing.T) {
	clock := ledgertest.NewClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLedgerTest(t, clock)
	ctx := context.Background()

	long := ledger.Record{JTI: "long", Subject: "1", DeviceID: "d", HashedToken: ledger.HashOf("a"), ExpiresAt: clock.Now().Add(time.Hour)}
	short := ledger.Record{JTI: "short", Subject: "1", DeviceID: "d", HashedToken: ledger.HashOf("b"), ExpiresAt: clock.Now().Add(time.Minute)}
	if err := l.Store(ctx, long); err != nil {
		t.Fatalf("store long: %v", err)
	}
	if err := l.Store(ctx, short); err != nil {
		t.Fatalf("store short: %v", err)
	}

	if ttl := mr.TTL("auth:refresh:family:1:d"); ttl != time.Hour {
		t.Fatalf("family ttl shrank to %v", ttl)
	}
}

func TestRedisLedgerCustomNamespace(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Unix(1_700_000_000, 0)
	l := ledger.NewRedisLedger(rdb, ledger.RedisConfig{Namespace: "svc", RecordPrefix: "rt", Now: func() time.Time { return now }})
	rec := ledger.Record{JTI: "x", Subject: "5", HashedToken: ledger.HashOf("t"), ExpiresAt: now.Add(time.Minute)}
	if err := l.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	if !mr.Exists("svc:rt:x") || !mr.Exists("svc:family:5:default") {
		t.Fatalf("unexpected keys: %v", mr.Keys())
	}
}

func TestRedisLedgerBackendUnavailable(t *testing.T) {
	clock := ledgertest.NewClock(time.Unix(1_700_000_000, 0))
	l, mr := newRedisLedgerTest(t, clock)
	mr.Close()

	ctx := context.Background()
	rec := ledger.Record{JTI: "r0", Subject: "1", HashedToken: ledger.HashOf("t"), ExpiresAt: clock.Now().Add(time.Hour)}
	if err := l.Store(ctx, rec); !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("store: expected ErrBackendUnavailable, got %v", err)
	}
	_, err := l.RotateIfMatches(ctx, ledger.Rotation{PreviousJTI: "r0", Next: ledger.Record{JTI: "r1", Subject: "1", ExpiresAt: clock.Now().Add(time.Hour)}})
	if !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("rotate: expected ErrBackendUnavailable, got %v", err)
	}
	if err := l.Invalidate(ctx, "r0"); !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("invalidate: expected ErrBackendUnavailable, got %v", err)
	}
	if err := l.InvalidateFamily(ctx, ledger.FamilyOf("1", "")); !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("invalidate family: expected ErrBackendUnavailable, got %v", err)
	}
	if err := l.Ping(ctx); !errors.Is(err, ledger.ErrBackendUnavailable) {
		t.Fatalf("ping: expected ErrBackendUnavailable, got %v", err)
	}
}
