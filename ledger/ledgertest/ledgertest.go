// Package ledgertest is a conformance suite for ledger.Ledger backends.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenring/ledger"
)

// Clock is a manually advanced time source shared by a backend and the suite.
type Clock struct {
	mu        sync.Mutex
	now       time.Time
	onAdvance func(time.Duration)
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and calls the OnAdvance hook, if any.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	hook := c.onAdvance
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
}

// OnAdvance registers fn to run on every Advance, e.g. miniredis FastForward.
func (c *Clock) OnAdvance(fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAdvance = fn
}

// Backend is a ledger that can also report live state.
type Backend interface {
	ledger.Ledger
	ledger.Inspector
}

// Factory builds a fresh, empty backend driven by clock.
type Factory func(t *testing.T, clock *Clock) Backend

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Run executes the conformance suite against newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l Backend, clock *Clock)
	}{
		{"StoreAndRotate", testStoreAndRotate},
		{"RotateHashMismatch", testRotateHashMismatch},
		{"RotateMissingRecord", testRotateMissingRecord},
		{"ReplayAfterRotation", testReplayAfterRotation},
		{"InvalidateIdempotent", testInvalidateIdempotent},
		{"InvalidateFamily", testInvalidateFamily},
		{"DefaultDeviceFamily", testDefaultDeviceFamily},
		{"ExpiredRecordIsAbsent", testExpiredRecordIsAbsent},
		{"StoreSkipsExpiredRecord", testStoreSkipsExpiredRecord},
		{"StoreRejectsInvalidRecord", testStoreRejectsInvalidRecord},
		{"RotateRejectsExpiredNext", testRotateRejectsExpiredNext},
		{"ConcurrentRotationSingleWinner", testConcurrentRotation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(epoch)
			tc.fn(t, newBackend(t, clock), clock)
		})
	}
}

func record(jti, subject, device, token string, exp time.Time) ledger.Record {
	return ledger.Record{
		JTI:         jti,
		Subject:     subject,
		DeviceID:    device,
		HashedToken: ledger.HashOf(token),
		ExpiresAt:   exp,
	}
}

func mustStore(t *testing.T, l Backend, rec ledger.Record) {
	t.Helper()
	if err := l.Store(context.Background(), rec); err != nil {
		t.Fatalf("store %s: %v", rec.JTI, err)
	}
}

func mustExist(t *testing.T, l Backend, jti string, want bool) {
	t.Helper()
	got, err := l.Exists(context.Background(), jti)
	if err != nil {
		t.Fatalf("exists %s: %v", jti, err)
	}
	if got != want {
		t.Fatalf("exists %s = %v, want %v", jti, got, want)
	}
}

func mustMembers(t *testing.T, l Backend, family ledger.FamilyKey, want ...string) {
	t.Helper()
	got, err := l.FamilyMembers(context.Background(), family)
	if err != nil {
		t.Fatalf("family members: %v", err)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("family %s members = %v, want %v", family, got, want)
	}
}

func testStoreAndRotate(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	exp := clock.Now().Add(time.Hour)
	mustStore(t, l, record("r0", "42", "dev", "token-0", exp))
	mustExist(t, l, "r0", true)
	mustMembers(t, l, ledger.FamilyOf("42", "dev"), "r0")

	res, err := l.RotateIfMatches(ctx, ledger.Rotation{
		PreviousJTI:   "r0",
		PresentedHash: ledger.HashOf("token-0"),
		Next:          record("r1", "42", "dev", "token-1", exp),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.Rotated || res.ReuseDetected {
		t.Fatalf("expected rotation, got %+v", res)
	}
	mustExist(t, l, "r0", false)
	mustExist(t, l, "r1", true)
	mustMembers(t, l, ledger.FamilyOf("42", "dev"), "r1")
}

func testRotateHashMismatch(t *testing.T, l Backend, clock *Clock) {
	exp := clock.Now().Add(time.Hour)
	mustStore(t, l, record("r0", "42", "dev", "token-0", exp))

	res, err := l.RotateIfMatches(context.Background(), ledger.Rotation{
		PreviousJTI:   "r0",
		PresentedHash: ledger.HashOf("forged"),
		Next:          record("r1", "42", "dev", "token-1", exp),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.ReuseDetected || res.Rotated || res.ReusedJTI != "r0" {
		t.Fatalf("expected reuse on r0, got %+v", res)
	}
	mustExist(t, l, "r1", false)
	mustExist(t, l, "r0", true)
}

func testRotateMissingRecord(t *testing.T, l Backend, clock *Clock) {
	res, err := l.RotateIfMatches(context.Background(), ledger.Rotation{
		PreviousJTI:   "never-stored",
		PresentedHash: ledger.HashOf("x"),
		Next:          record("r1", "42", "dev", "token-1", clock.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.ReuseDetected || res.ReusedJTI != "never-stored" {
		t.Fatalf("expected reuse, got %+v", res)
	}
	mustExist(t, l, "r1", false)
	mustMembers(t, l, ledger.FamilyOf("42", "dev"))
}

func testReplayAfterRotation(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	exp := clock.Now().Add(time.Hour)
	mustStore(t, l, record("r0", "42", "dev", "token-0", exp))

	first := ledger.Rotation{PreviousJTI: "r0", PresentedHash: ledger.HashOf("token-0"), Next: record("r1", "42", "dev", "token-1", exp)}
	if res, err := l.RotateIfMatches(ctx, first); err != nil || !res.Rotated {
		t.Fatalf("first rotation: res=%+v err=%v", res, err)
	}

	replay := ledger.Rotation{PreviousJTI: "r0", PresentedHash: ledger.HashOf("token-0"), Next: record("r2", "42", "dev", "token-2", exp)}
	res, err := l.RotateIfMatches(ctx, replay)
	if err != nil {
		t.Fatalf("replay rotation: %v", err)
	}
	if !res.ReuseDetected {
		t.Fatalf("replayed jti must be detected, got %+v", res)
	}
	mustExist(t, l, "r2", false)
	mustMembers(t, l, ledger.FamilyOf("42", "dev"), "r1")
}

func testInvalidateIdempotent(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	mustStore(t, l, record("r0", "42", "dev", "token-0", clock.Now().Add(time.Hour)))
	mustStore(t, l, record("r1", "42", "dev", "token-1", clock.Now().Add(time.Hour)))

	for i := 0; i < 2; i++ {
		if err := l.Invalidate(ctx, "r0"); err != nil {
			t.Fatalf("invalidate #%d: %v", i, err)
		}
	}
	if err := l.Invalidate(ctx, "unknown"); err != nil {
		t.Fatalf("invalidate unknown: %v", err)
	}
	mustExist(t, l, "r0", false)
	mustExist(t, l, "r1", true)
	mustMembers(t, l, ledger.FamilyOf("42", "dev"), "r1")
}

func testInvalidateFamily(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	exp := clock.Now().Add(time.Hour)
	mustStore(t, l, record("a0", "42", "phone", "ta0", exp))
	mustStore(t, l, record("a1", "42", "phone", "ta1", exp))
	mustStore(t, l, record("b0", "42", "laptop", "tb0", exp))
	mustStore(t, l, record("c0", "7", "phone", "tc0", exp))

	if err := l.InvalidateFamily(ctx, ledger.FamilyOf("42", "phone")); err != nil {
		t.Fatalf("invalidate family: %v", err)
	}
	mustExist(t, l, "a0", false)
	mustExist(t, l, "a1", false)
	mustExist(t, l, "b0", true)
	mustExist(t, l, "c0", true)
	mustMembers(t, l, ledger.FamilyOf("42", "phone"))

	if err := l.InvalidateFamily(ctx, ledger.FamilyOf("42", "phone")); err != nil {
		t.Fatalf("invalidate empty family: %v", err)
	}
}

func testDefaultDeviceFamily(t *testing.T, l Backend, clock *Clock) {
	mustStore(t, l, record("r0", "42", "", "token-0", clock.Now().Add(time.Hour)))
	mustMembers(t, l, ledger.FamilyOf("42", ledger.DefaultDevice), "r0")

	if err := l.InvalidateFamily(context.Background(), ledger.FamilyKey{Subject: "42"}); err != nil {
		t.Fatalf("invalidate family: %v", err)
	}
	mustExist(t, l, "r0", false)
}

func testExpiredRecordIsAbsent(t *testing.T, l Backend, clock *Clock) {
	mustStore(t, l, record("r0", "42", "dev", "token-0", clock.Now().Add(time.Minute)))
	clock.Advance(2 * time.Minute)

	mustExist(t, l, "r0", false)
	res, err := l.RotateIfMatches(context.Background(), ledger.Rotation{
		PreviousJTI:   "r0",
		PresentedHash: ledger.HashOf("token-0"),
		Next:          record("r1", "42", "dev", "token-1", clock.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.ReuseDetected {
		t.Fatalf("expired record must not rotate, got %+v", res)
	}
}

func testStoreSkipsExpiredRecord(t *testing.T, l Backend, clock *Clock) {
	mustStore(t, l, record("r0", "42", "dev", "token-0", clock.Now()))
	mustStore(t, l, record("r1", "42", "dev", "token-1", clock.Now().Add(-time.Second)))
	mustExist(t, l, "r0", false)
	mustExist(t, l, "r1", false)
}

func testStoreRejectsInvalidRecord(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	exp := clock.Now().Add(time.Hour)
	for _, rec := range []ledger.Record{
		record("", "42", "dev", "t", exp),
		record("r0", "", "dev", "t", exp),
		{JTI: "r0", Subject: "42"},
	} {
		if err := l.Store(ctx, rec); !errors.Is(err, ledger.ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for %+v, got %v", rec, err)
		}
	}

	_, err := l.RotateIfMatches(ctx, ledger.Rotation{PreviousJTI: "same", Next: record("same", "42", "dev", "t", exp)})
	if !errors.Is(err, ledger.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for self rotation, got %v", err)
	}
}

func testConcurrentRotation(t *testing.T, l Backend, clock *Clock) {
	const workers = 16
	ctx := context.Background()
	exp := clock.Now().Add(time.Hour)
	mustStore(t, l, record("r0", "42", "dev", "token-0", exp))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		reused  int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := fmt.Sprintf("n%02d", i)
			res, err := l.RotateIfMatches(ctx, ledger.Rotation{
				PreviousJTI:   "r0",
				PresentedHash: ledger.HashOf("token-0"),
				Next:          record(next, "42", "dev", "token-"+next, exp),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, err)
			case res.Rotated:
				winners = append(winners, next)
			case res.ReuseDetected:
				reused++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(winners) != 1 || reused != workers-1 {
		t.Fatalf("expected exactly one winner, got winners=%v reused=%d", winners, reused)
	}
	mustMembers(t, l, ledger.FamilyOf("42", "dev"), winners[0])
}

func testRotateRejectsExpiredNext(t *testing.T, l Backend, clock *Clock) {
	ctx := context.Background()
	mustStore(t, l, record("r0", "42", "dev", "token-0", clock.Now().Add(time.Hour)))

	for _, exp := range []time.Time{clock.Now(), clock.Now().Add(-time.Minute)} {
		res, err := l.RotateIfMatches(ctx, ledger.Rotation{
			PreviousJTI:   "r0",
			PresentedHash: ledger.HashOf("token-0"),
			Next:          record("r1", "42", "dev", "token-1", exp),
		})
		if !errors.Is(err, ledger.ErrInvalidRecord) {
			t.Fatalf("expired next (exp=%v): err = %v, want ErrInvalidRecord", exp, err)
		}
		if res.Rotated || res.ReuseDetected {
			t.Fatalf("expired next produced result %+v", res)
		}
	}

	// The previous record is untouched and still rotates normally.
	mustExist(t, l, "r0", true)
	mustExist(t, l, "r1", false)
	res, err := l.RotateIfMatches(ctx, ledger.Rotation{
		PreviousJTI:   "r0",
		PresentedHash: ledger.HashOf("token-0"),
		Next:          record("r1", "42", "dev", "token-1", clock.Now().Add(time.Hour)),
	})
	if err != nil || !res.Rotated {
		t.Fatalf("rotation after rejected attempt: res=%+v err=%v", res, err)
	}
}
