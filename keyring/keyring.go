// Package keyring holds the named HMAC secrets used to sign and verify tokens.
//
// A KeyRing is built once at startup and never mutated. Rotating keys means
// adding a new kid, switching the active kid and restarting; old kids stay in
// the ring until every token they signed has expired.
package keyring

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MinSecretBytes is the shortest secret accepted for HS256 signing.
	MinSecretBytes = 32
	// MaxSecretBytes is the longest secret accepted for HS256 signing.
	MaxSecretBytes = 64
	// DefaultActiveKID is used when configuration names no active key.
	DefaultActiveKID = "primary"
)

var (
	// ErrEmpty is returned when a ring would hold no keys.
	ErrEmpty = errors.New("keyring: no signing keys configured")
	// ErrActiveKeyMissing is returned when the active kid is not in the ring.
	ErrActiveKeyMissing = errors.New("keyring: active kid not present")
	// ErrSecretLength is returned for secrets outside 32..64 bytes.
	ErrSecretLength = errors.New("keyring: secret must be 32-64 bytes")
	// ErrMalformedEntry is returned for kid:secret entries that cannot be parsed.
	ErrMalformedEntry = errors.New("keyring: malformed kid:secret entry")
	// ErrKeyNotFound is returned by SecretFor for kids not in the ring.
	ErrKeyNotFound = errors.New("keyring: kid not found")
)

// Key is one named secret.
type Key struct {
	ID     string
	Secret []byte
}

// KeyRing maps kids to secrets and names the kid used for new signatures.
// It is safe for concurrent use.
type KeyRing struct {
	activeKID string
	order     []string
	secrets   map[string][]byte
}

// New validates keys and returns an immutable ring. Secrets are copied.
func New(activeKID string, keys ...Key) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, ErrEmpty
	}

	activeKID = strings.TrimSpace(activeKID)
	ring := &KeyRing{
		activeKID: activeKID,
		order:     make([]string, 0, len(keys)),
		secrets:   make(map[string][]byte, len(keys)),
	}
	for _, k := range keys {
		kid := strings.TrimSpace(k.ID)
		if kid == "" {
			return nil, fmt.Errorf("%w: empty kid", ErrMalformedEntry)
		}
		if _, dup := ring.secrets[kid]; dup {
			return nil, fmt.Errorf("%w: duplicate kid %q", ErrMalformedEntry, kid)
		}
		if n := len(k.Secret); n < MinSecretBytes || n > MaxSecretBytes {
			return nil, fmt.Errorf("%w: kid %q has %d bytes", ErrSecretLength, kid, n)
		}
		ring.order = append(ring.order, kid)
		ring.secrets[kid] = append([]byte(nil), k.Secret...)
	}

	if _, ok := ring.secrets[activeKID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrActiveKeyMissing, activeKID)
	}
	return ring, nil
}

// FromMap builds a ring from a kid→secret map. Kids are ordered lexically.
func FromMap(activeKID string, secrets map[string]string) (*KeyRing, error) {
	kids := make([]string, 0, len(secrets))
	for kid := range secrets {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	keys := make([]Key, 0, len(kids))
	for _, kid := range kids {
		keys = append(keys, Key{ID: kid, Secret: []byte(strings.TrimSpace(secrets[kid]))})
	}
	return New(activeKID, keys...)
}

// Parse reads the "kid:secret,kid2:secret2" format. Entries and their parts
// are trimmed; blank entries are skipped. The secret is everything after the
// first colon, so secrets may themselves contain colons.
func Parse(raw string) ([]Key, error) {
	var keys []Key
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kid, secret, ok := strings.Cut(entry, ":")
		kid = strings.TrimSpace(kid)
		secret = strings.TrimSpace(secret)
		if !ok || kid == "" || secret == "" {
			return nil, ErrMalformedEntry
		}
		keys = append(keys, Key{ID: kid, Secret: []byte(secret)})
	}
	if len(keys) == 0 {
		return nil, ErrEmpty
	}
	return keys, nil
}

// ParseRing is Parse followed by New.
func ParseRing(activeKID, raw string) (*KeyRing, error) {
	keys, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return New(activeKID, keys...)
}

// ActiveKID returns the kid used for new signatures.
func (r *KeyRing) ActiveKID() string {
	return r.activeKID
}

// ActiveSecret returns the secret for ActiveKID. The slice must not be modified.
func (r *KeyRing) ActiveSecret() []byte {
	return r.secrets[r.activeKID]
}

// SecretFor looks up a verification secret. There is no fallback: an unknown
// kid is always ErrKeyNotFound.
func (r *KeyRing) SecretFor(kid string) ([]byte, error) {
	secret, ok := r.secrets[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return secret, nil
}

// KIDs returns the kids in ring order.
func (r *KeyRing) KIDs() []string {
	return append([]string(nil), r.order...)
}

// Len reports how many keys the ring holds.
func (r *KeyRing) Len() int {
	return len(r.order)
}
