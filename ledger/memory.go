package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryRecord struct {
	hash      Hash
	family    FamilyKey
	expiresAt time.Time
}

// MemoryLedger is an in-process Ledger for tests and single-instance
// deployments. One mutex covers every operation, so rotation is atomic.
// Expired records are treated as absent and swept lazily.
type MemoryLedger struct {
	mu       sync.Mutex
	now      func() time.Time
	records  map[string]memoryRecord
	families map[FamilyKey]map[string]struct{}
}

// NewMemoryLedger returns an empty ledger. now defaults to time.Now.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		now:      now,
		records:  make(map[string]memoryRecord),
		families: make(map[FamilyKey]map[string]struct{}),
	}
}

// Store implements Ledger.
func (m *MemoryLedger) Store(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !rec.ExpiresAt.After(m.now()) {
		return nil
	}
	m.insertLocked(rec)
	return nil
}

// RotateIfMatches implements Ledger.
func (m *MemoryLedger) RotateIfMatches(ctx context.Context, rot Rotation) (RotationResult, error) {
	if err := rot.Validate(); err != nil {
		return RotationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RotationResult{}, unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !rot.Next.ExpiresAt.After(now) {
		return RotationResult{}, fmt.Errorf("%w: next record already expired", ErrInvalidRecord)
	}
	prev, ok := m.liveLocked(rot.PreviousJTI, now)
	if !ok || prev.hash != rot.PresentedHash {
		return RotationResult{ReuseDetected: true, ReusedJTI: rot.PreviousJTI}, nil
	}

	m.removeLocked(rot.PreviousJTI)
	m.insertLocked(rot.Next)
	return RotationResult{Rotated: true}, nil
}

// Invalidate implements Ledger.
func (m *MemoryLedger) Invalidate(ctx context.Context, jti string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(jti)
	return nil
}

// InvalidateFamily implements Ledger.
func (m *MemoryLedger) InvalidateFamily(ctx context.Context, family FamilyKey) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	family = FamilyOf(family.Subject, family.DeviceID)

	m.mu.Lock()
	defer m.mu.Unlock()
	for jti := range m.families[family] {
		delete(m.records, jti)
	}
	delete(m.families, family)
	return nil
}

// Exists implements Inspector.
func (m *MemoryLedger) Exists(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveLocked(jti, m.now())
	return ok, nil
}

// FamilyMembers implements Inspector.
func (m *MemoryLedger) FamilyMembers(_ context.Context, family FamilyKey) ([]string, error) {
	family = FamilyOf(family.Subject, family.DeviceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []string
	for jti := range m.families[family] {
		if _, ok := m.liveLocked(jti, now); ok {
			out = append(out, jti)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len reports the number of live records.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, rec := range m.records {
		if rec.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (m *MemoryLedger) insertLocked(rec Record) {
	family := rec.Family()
	m.records[rec.JTI] = memoryRecord{hash: rec.HashedToken, family: family, expiresAt: rec.ExpiresAt}
	members, ok := m.families[family]
	if !ok {
		members = make(map[string]struct{})
		m.families[family] = members
	}
	members[rec.JTI] = struct{}{}
}

// liveLocked returns the record for jti, sweeping it if it has expired.
func (m *MemoryLedger) liveLocked(jti string, now time.Time) (memoryRecord, bool) {
	rec, ok := m.records[jti]
	if !ok {
		return memoryRecord{}, false
	}
	if !rec.expiresAt.After(now) {
		m.removeLocked(jti)
		return memoryRecord{}, false
	}
	return rec, true
}

func (m *MemoryLedger) removeLocked(jti string) {
	rec, ok := m.records[jti]
	if !ok {
		return
	}
	delete(m.records, jti)
	if members, ok := m.families[rec.family]; ok {
		delete(members, jti)
		if len(members) == 0 {
			delete(m.families, rec.family)
		}
	}
}
