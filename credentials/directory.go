package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/tokenring"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password.
	ErrInvalidCredentials = errors.New("credentials: invalid email or password")
	ErrDuplicateEmail     = errors.New("credentials: email already registered")
)

type account struct {
	principal tokenring.Principal
	hash      string
}

// Directory is an in-memory credential store keyed by lower-cased email.
type Directory struct {
	hasher *Hasher
	// dummy is verified for unknown emails so both failure paths cost one
	// argon2 computation.
	dummy string

	mu       sync.RWMutex
	accounts map[string]account
	nextID   int64
}

func NewDirectory(h *Hasher) (*Directory, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil hasher", ErrInvalidParams)
	}
	dummy, err := h.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	return &Directory{hasher: h, dummy: dummy, accounts: make(map[string]account)}, nil
}

// Register stores a new account and returns its principal. User ids are
// assigned sequentially from 1.
func (d *Directory) Register(email, displayName, password string, authorities ...string) (tokenring.Principal, error) {
	key := normalizeEmail(email)
	if key == "" {
		return tokenring.Principal{}, fmt.Errorf("%w: empty email", ErrInvalidCredentials)
	}
	hash, err := d.hasher.Hash(password)
	if err != nil {
		return tokenring.Principal{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.accounts[key]; exists {
		return tokenring.Principal{}, ErrDuplicateEmail
	}
	d.nextID++
	p := tokenring.Principal{
		UserID:      d.nextID,
		Email:       key,
		DisplayName: strings.TrimSpace(displayName),
		Authorities: append([]string(nil), authorities...),
	}
	d.accounts[key] = account{principal: p, hash: hash}
	return p, nil
}

// Authenticate returns the principal for email when password matches.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (tokenring.Principal, error) {
	if err := ctx.Err(); err != nil {
		return tokenring.Principal{}, err
	}

	d.mu.RLock()
	acct, ok := d.accounts[normalizeEmail(email)]
	d.mu.RUnlock()

	hash := acct.hash
	if !ok {
		hash = d.dummy
	}
	match, err := d.hasher.Verify(password, hash)
	if err != nil && !errors.Is(err, ErrPasswordLength) {
		return tokenring.Principal{}, err
	}
	if !ok || !match {
		return tokenring.Principal{}, ErrInvalidCredentials
	}
	return acct.principal, nil
}

// Lookup returns the current principal for userID. It backs refresh checks
// that must notice removed accounts.
func (d *Directory) Lookup(userID int64) (tokenring.Principal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, acct := range d.accounts {
		if acct.principal.UserID == userID {
			return acct.principal, true
		}
	}
	return tokenring.Principal{}, false
}

// Remove deletes the account for email. Refresh checks built on Lookup will
// reject its tokens from then on.
func (d *Directory) Remove(email string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, normalizeEmail(email))
}

// RefreshCheck rejects refreshes for accounts that no longer exist.
func (d *Directory) RefreshCheck(_ context.Context, claims tokenring.Claims) error {
	if _, ok := d.Lookup(claims.UserID); !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
