package flows

import (
	"context"
	"strings"

	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/ledger"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Codec  TokenCodec
	Ledger ledger.Ledger
}

// LogoutResult reports what logout did. VerifyErr is informational: a token
// that does not verify means there is nothing to revoke.
type LogoutResult struct {
	Invalidated bool
	Claims      jwt.Claims
	VerifyErr   error
}

// RunLogout revokes the record named by refreshToken. Expired tokens still
// name their record. Only ledger failures are returned as errors.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) (LogoutResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return LogoutResult{}, nil
	}

	claims, err := deps.Codec.Verify(refreshToken, jwt.KindRefresh, jwt.AllowExpired())
	if err != nil {
		return LogoutResult{VerifyErr: err}, nil
	}

	if err := deps.Ledger.Invalidate(ctx, claims.TokenID); err != nil {
		return LogoutResult{Claims: claims}, err
	}
	return LogoutResult{Invalidated: true, Claims: claims}, nil
}
