package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/tokenring"
)

func fastParams() Params {
	return Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T, p Params) *Hasher {
	t.Helper()
	h, err := NewHasher(p)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, fastParams())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = h.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestHashPasswordLength(t *testing.T) {
	h := newTestHasher(t, fastParams())
	for _, pw := range []string{"", "short", strings.Repeat("x", maxPassBytes+1)} {
		if _, err := h.Hash(pw); !errors.Is(err, ErrPasswordLength) {
			t.Fatalf("Hash(len %d): expected ErrPasswordLength, got %v", len(pw), err)
		}
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, fastParams())
	for _, enc := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5aw",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	} {
		if _, err := h.Verify("whatever-password", enc); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q): expected ErrInvalidHash, got %v", enc, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, fastParams())
	hash, err := weak.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if again, _ := weak.NeedsRehash(hash); again {
		t.Fatalf("same params must not need rehash")
	}

	stronger := fastParams()
	stronger.Time = 2
	if again, _ := newTestHasher(t, stronger).NeedsRehash(hash); !again {
		t.Fatalf("stronger params must need rehash")
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	p := fastParams()
	p.SaltLength = 8
	if _, err := NewHasher(p); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestDirectoryAuthenticate(t *testing.T) {
	d, err := NewDirectory(newTestHasher(t, fastParams()))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}

	p, err := d.Register(" A@B.com ", "Alice", "correct-password", "ROLE_USER")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.UserID != 1 || p.Email != "a@b.com" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := d.Register("a@b.com", "", "another-password"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	ctx := context.Background()
	got, err := d.Authenticate(ctx, "a@b.com", "correct-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.UserID != 1 || len(got.Authorities) != 1 || got.Authorities[0] != "ROLE_USER" {
		t.Fatalf("unexpected principal %+v", got)
	}

	if _, err := d.Authenticate(ctx, "a@b.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := d.Authenticate(ctx, "nobody@b.com", "correct-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestDirectoryRefreshCheck(t *testing.T) {
	d, err := NewDirectory(newTestHasher(t, fastParams()))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	p, err := d.Register("a@b.com", "", "correct-password")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	claims := tokenring.Claims{UserID: p.UserID}
	if err := d.RefreshCheck(context.Background(), claims); err != nil {
		t.Fatalf("expected live account to pass: %v", err)
	}
	d.Remove("a@b.com")
	if err := d.RefreshCheck(context.Background(), claims); err == nil {
		t.Fatalf("expected removed account to be rejected")
	}
}
