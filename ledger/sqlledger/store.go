// Package sqlledger is a ledger.Ledger on SQLite for deployments without
// Redis. Rotation is a conditional DELETE and an INSERT in one transaction,
// so a rollback leaves the previous record untouched.
package sqlledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenring/ledger"

	_ "modernc.org/sqlite"
)

// Store implements ledger.Ledger and ledger.Inspector.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of "now" for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens the SQLite database at dsn. Callers run ApplyMigrations before
// first use.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// withTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

const insertRecord = `
INSERT OR REPLACE INTO refresh_records (jti, subject, device_id, token_hash, expires_at)
VALUES (?, ?, ?, ?, ?)`

// Store implements ledger.Ledger.
func (s *Store) Store(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil
	}

	family := rec.Family()
	_, err := s.db.ExecContext(ctx, insertRecord,
		rec.JTI, family.Subject, family.DeviceID, rec.HashedToken[:], rec.ExpiresAt.UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// RotateIfMatches implements ledger.Ledger.
func (s *Store) RotateIfMatches(ctx context.Context, rot ledger.Rotation) (ledger.RotationResult, error) {
	if err := rot.Validate(); err != nil {
		return ledger.RotationResult{}, err
	}

	now := s.now()
	if !rot.Next.ExpiresAt.After(now) {
		return ledger.RotationResult{}, fmt.Errorf("%w: next record already expired", ledger.ErrInvalidRecord)
	}
	var result ledger.RotationResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_records WHERE jti = ? AND token_hash = ? AND expires_at > ?`,
			rot.PreviousJTI, rot.PresentedHash[:], now.UnixMilli())
		if err != nil {
			return unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		if n != 1 {
			result = ledger.RotationResult{ReuseDetected: true, ReusedJTI: rot.PreviousJTI}
			return nil
		}

		family := rot.Next.Family()
		if _, err := tx.ExecContext(ctx, insertRecord,
			rot.Next.JTI, family.Subject, family.DeviceID, rot.Next.HashedToken[:], rot.Next.ExpiresAt.UnixMilli()); err != nil {
			return unavailable(err)
		}
		result = ledger.RotationResult{Rotated: true}
		return nil
	})
	if err != nil {
		return ledger.RotationResult{}, err
	}
	return result, nil
}

// Invalidate implements ledger.Ledger.
func (s *Store) Invalidate(ctx context.Context, jti string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_records WHERE jti = ?`, jti); err != nil {
		return unavailable(err)
	}
	return nil
}

// InvalidateFamily implements ledger.Ledger.
func (s *Store) InvalidateFamily(ctx context.Context, family ledger.FamilyKey) error {
	family = ledger.FamilyOf(family.Subject, family.DeviceID)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_records WHERE subject = ? AND device_id = ?`,
		family.Subject, family.DeviceID)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Exists implements ledger.Inspector.
func (s *Store) Exists(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM refresh_records WHERE jti = ? AND expires_at > ?`,
		jti, s.now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// FamilyMembers implements ledger.Inspector.
func (s *Store) FamilyMembers(ctx context.Context, family ledger.FamilyKey) ([]string, error) {
	family = ledger.FamilyOf(family.Subject, family.DeviceID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT jti FROM refresh_records WHERE subject = ? AND device_id = ? AND expires_at > ? ORDER BY jti`,
		family.Subject, family.DeviceID, s.now().UnixMilli())
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var jti string
		if err := rows.Scan(&jti); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, jti)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Purge deletes expired rows and reports how many were removed. SQLite has
// no key TTL, so callers schedule this.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_records WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ledger.ErrBackendUnavailable, err)
}
