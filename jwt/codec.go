package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokenring/keyring"
	"github.com/golang-jwt/jwt/v5"
)

// Config wires a Codec. Now defaults to time.Now.
type Config struct {
	Keys *keyring.KeyRing
	Now  func() time.Time
}

// Codec signs and verifies tokens. It holds no mutable state and is safe for
// concurrent use.
type Codec struct {
	keys   *keyring.KeyRing
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Keys == nil {
		return nil, errors.New("jwt: key ring is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		keys: cfg.Keys,
		now:  now,
		// exp is checked against the injected clock after the signature, so
		// the library's wall-clock validation is disabled. The algorithm is
		// checked in keyFor, after the kid.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}, nil
}

// Issue signs a token of the given kind for p with the active key.
//
// issuedAt and expiresAt are encoded as Unix seconds. Issue rejects input
// that Verify could never accept (unknown kind, empty email or jti, or an
// expiry not after issuance).
func (c *Codec) Issue(p Principal, kind Kind, jti string, issuedAt, expiresAt time.Time) (string, error) {
	switch {
	case !kind.Valid():
		return "", fmt.Errorf("%w: kind %q", ErrInvalidInput, kind)
	case jti == "":
		return "", fmt.Errorf("%w: empty jti", ErrInvalidInput)
	case p.Email == "":
		return "", fmt.Errorf("%w: empty email", ErrInvalidInput)
	case !expiresAt.After(issuedAt):
		return "", fmt.Errorf("%w: expiry not after issuance", ErrInvalidInput)
	}

	claims := wireClaims{
		TokenType: string(kind),
		Email:     p.Email,
		Auth:      authorities(p.Authorities),
		DeviceID:  p.DeviceID,
		Name:      p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header = map[string]any{
		"alg": jwt.SigningMethodHS256.Alg(),
		"kid": c.keys.ActiveKID(),
	}
	return token.SignedString(c.keys.ActiveSecret())
}

// VerifyOption adjusts a single Verify call.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	allowExpired bool
}

// AllowExpired skips the expiry check. Logout uses it so that an expired
// refresh token can still name the record to remove.
func AllowExpired() VerifyOption {
	return func(o *verifyOptions) { o.allowExpired = true }
}

// Verify checks token and returns its claims.
//
// Checks run in order: structure, kid, signature, expiry, kind, email and
// numeric subject. The first failure is returned wrapping one of the package
// sentinel errors and no claims are returned.
func (c *Codec) Verify(token string, expected Kind, opts ...VerifyOption) (Claims, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	wire := &wireClaims{}
	parsed, err := c.parser.ParseWithClaims(token, wire, c.keyFor)
	if err != nil {
		// An alg the library does not know fails before keyFor runs.
		if errors.Is(err, jwt.ErrTokenUnverifiable) && parsed != nil {
			if _, kidErr := c.secretFor(parsed.Header); kidErr != nil {
				return Claims{}, kidErr
			}
		}
		return Claims{}, classify(err)
	}

	if wire.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: exp", ErrClaimMissing)
	}
	if !o.allowExpired && !c.now().Before(wire.ExpiresAt.Time) {
		return Claims{}, ErrExpired
	}
	if Kind(wire.TokenType) != expected {
		return Claims{}, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, wire.TokenType, expected)
	}
	if wire.Email == "" {
		return Claims{}, fmt.Errorf("%w: email", ErrClaimMissing)
	}
	userID, err := strconv.ParseInt(wire.Subject, 10, 64)
	if err != nil || strconv.FormatInt(userID, 10) != wire.Subject {
		return Claims{}, ErrSubjectNotNumeric
	}

	claims := Claims{
		TokenID:     wire.ID,
		UserID:      userID,
		Email:       wire.Email,
		DisplayName: wire.Name,
		ExpiresAt:   wire.ExpiresAt.Time,
		Kind:        Kind(wire.TokenType),
		Authorities: []string(wire.Auth),
		DeviceID:    wire.DeviceID,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	return claims, nil
}

func (c *Codec) keyFor(t *jwt.Token) (any, error) {
	secret, err := c.secretFor(t.Header)
	if err != nil {
		return nil, err
	}
	if t.Method != jwt.SigningMethodHS256 {
		return nil, fmt.Errorf("%w: alg %v", ErrSignatureInvalid, t.Header["alg"])
	}
	return secret, nil
}

func (c *Codec) secretFor(header map[string]any) ([]byte, error) {
	kid, _ := header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKey)
	}
	secret, err := c.keys.SecretFor(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return secret, nil
}

// classify maps parser errors onto the verification sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
