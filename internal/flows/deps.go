package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/tokenring/jwt"
)

// TokenCodec is the subset of *jwt.Codec the flows need.
type TokenCodec interface {
	Issue(p jwt.Principal, kind jwt.Kind, jti string, issuedAt, expiresAt time.Time) (string, error)
	Verify(token string, expected jwt.Kind, opts ...jwt.VerifyOption) (jwt.Claims, error)
}

// MintDeps is shared by issue and refresh: everything needed to produce a
// fresh token pair.
type MintDeps struct {
	Now        func() time.Time
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Codec      TokenCodec
	NewTokenID func() (string, error)
}

// Deps groups flow dependency sets. The root engine builds this once and
// delegates each operation to the matching flow.
type Deps struct {
	Issue   IssueDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
}

// RefreshCheck re-authorizes the identity carried by a refresh token.
type RefreshCheck func(ctx context.Context, claims jwt.Claims) error
