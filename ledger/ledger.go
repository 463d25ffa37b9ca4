// Package ledger stores which refresh tokens are currently valid.
//
// Only a SHA-256 hash of each refresh token is persisted. Records are grouped
// into families keyed by (subject, device) so that a detected replay can
// revoke a whole session lineage at once.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultDevice names the family of records issued without a device id.
const DefaultDevice = "default"

var (
	// ErrBackendUnavailable marks ledger I/O failures. It is retryable and
	// distinct from every authentication outcome.
	ErrBackendUnavailable = errors.New("refresh ledger unavailable")
	// ErrInvalidRecord is returned for records that are missing required fields.
	ErrInvalidRecord = errors.New("invalid refresh record")
)

// Hash is the SHA-256 digest of a refresh token.
type Hash [sha256.Size]byte

// HashOf digests token.
func HashOf(token string) Hash {
	return sha256.Sum256([]byte(token))
}

// String returns the lowercase hex form used by text backends.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// FamilyKey identifies the records of one subject on one device.
type FamilyKey struct {
	Subject  string
	DeviceID string
}

// FamilyOf normalizes an empty device id to DefaultDevice.
func FamilyOf(subject, deviceID string) FamilyKey {
	if deviceID == "" {
		deviceID = DefaultDevice
	}
	return FamilyKey{Subject: subject, DeviceID: deviceID}
}

func (f FamilyKey) String() string {
	return f.Subject + ":" + f.DeviceID
}

// Record is one valid refresh token. Records are never updated in place.
type Record struct {
	JTI         string
	Subject     string
	DeviceID    string
	HashedToken Hash
	ExpiresAt   time.Time
}

// Family returns the normalized family key of r.
func (r Record) Family() FamilyKey {
	return FamilyOf(r.Subject, r.DeviceID)
}

// Validate reports missing required fields.
func (r Record) Validate() error {
	if r.JTI == "" {
		return fmt.Errorf("%w: empty jti", ErrInvalidRecord)
	}
	if r.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidRecord)
	}
	if r.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: zero expiry", ErrInvalidRecord)
	}
	return nil
}

// Rotation replaces PreviousJTI with Next if the stored hash for PreviousJTI
// equals PresentedHash.
type Rotation struct {
	PreviousJTI   string
	PresentedHash Hash
	Next          Record
}

// Validate reports a malformed rotation request.
func (r Rotation) Validate() error {
	if r.PreviousJTI == "" {
		return fmt.Errorf("%w: empty previous jti", ErrInvalidRecord)
	}
	if r.PreviousJTI == r.Next.JTI {
		return fmt.Errorf("%w: next jti equals previous", ErrInvalidRecord)
	}
	return r.Next.Validate()
}

// RotationResult reports the outcome of RotateIfMatches. Exactly one of
// Rotated and ReuseDetected is true when err is nil.
type RotationResult struct {
	Rotated       bool
	ReuseDetected bool
	ReusedJTI     string
}

// Ledger is the refresh-token whitelist. Implementations must make
// RotateIfMatches atomic: of any set of concurrent rotations presenting the
// same record, exactly one may succeed.
type Ledger interface {
	// Store inserts rec and adds it to its family. A record that is already
	// expired by the ledger's clock is silently dropped.
	Store(ctx context.Context, rec Record) error
	// RotateIfMatches swaps the previous record for the next one, or reports
	// reuse without writing anything when the previous record is missing or
	// its hash differs. A next record that is already expired is refused with
	// ErrInvalidRecord and nothing changes.
	RotateIfMatches(ctx context.Context, rot Rotation) (RotationResult, error)
	// Invalidate removes a single record. Absent records are a no-op.
	Invalidate(ctx context.Context, jti string) error
	// InvalidateFamily removes every record of the family and the family index.
	InvalidateFamily(ctx context.Context, family FamilyKey) error
}

// Inspector is implemented by backends that can report live state. It backs
// admin tooling and tests; the rotation protocol does not need it.
type Inspector interface {
	Exists(ctx context.Context, jti string) (bool, error)
	FamilyMembers(ctx context.Context, family FamilyKey) ([]string, error)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
