package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/ledger"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureVerify
	RefreshFailureRejected
	RefreshFailureMint
	RefreshFailureRotate
	RefreshFailureReuse
)

// RefreshResult carries either the rotated pair or failure metadata. Claims
// are those of the presented token when it verified.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	Claims     jwt.Claims
	Pair       TokenPair
	AccessJTI  string
	RefreshJTI string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Mint   MintDeps
	Ledger ledger.Ledger
	// Check is optional. When set it runs before rotation and a non-nil
	// result revokes the presented token.
	Check         RefreshCheck
	ReuseDetected error
	Rejected      error
	Warn          func(string, ...any)
}

// RunRefresh verifies the presented refresh token and swaps its ledger record
// for a new one. The identity of the new pair is taken from the old token's
// claims. A presented token whose record has moved on revokes its whole
// family.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Mint.Codec.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureVerify, Err: err}
	}

	if deps.Check != nil {
		if checkErr := deps.Check(ctx, claims); checkErr != nil {
			err := fmt.Errorf("%w: %w", deps.Rejected, checkErr)
			if invErr := deps.Ledger.Invalidate(ctx, claims.TokenID); invErr != nil {
				err = errors.Join(err, invErr)
			}
			return RefreshResult{Failure: RefreshFailureRejected, Err: err, Claims: claims}
		}
	}

	m, err := mint(claims.Principal(), deps.Mint)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMint, Err: err, Claims: claims}
	}

	res, err := deps.Ledger.RotateIfMatches(ctx, ledger.Rotation{
		PreviousJTI:   claims.TokenID,
		PresentedHash: ledger.HashOf(refreshToken),
		Next:          m.record,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureRotate, Err: err, Claims: claims}
	}

	if res.ReuseDetected {
		family := ledger.FamilyOf(strconv.FormatInt(claims.UserID, 10), claims.DeviceID)
		// Containment runs even if the caller has gone away.
		famErr := deps.Ledger.InvalidateFamily(context.WithoutCancel(ctx), family)
		err := deps.ReuseDetected
		if famErr != nil {
			if deps.Warn != nil {
				deps.Warn("tokenring: family invalidation failed", "family", family.String(), "error", famErr)
			}
			err = errors.Join(deps.ReuseDetected, famErr)
		}
		return RefreshResult{Failure: RefreshFailureReuse, Err: err, Claims: claims}
	}

	return RefreshResult{
		Claims:     claims,
		Pair:       m.pair,
		AccessJTI:  m.accessJTI,
		RefreshJTI: m.record.JTI,
	}
}
