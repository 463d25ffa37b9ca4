package flows

import (
	"strconv"
	"time"

	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/ledger"
)

// TokenPair is handed to the caller once per issue or refresh; it is never
// persisted.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type minted struct {
	pair      TokenPair
	accessJTI string
	record    ledger.Record
}

// mint signs an access and a refresh token for p. Instants are truncated to
// whole seconds so the returned expiries equal the exp claims.
func mint(p jwt.Principal, deps MintDeps) (minted, error) {
	now := deps.Now().Truncate(time.Second)
	accessExp := now.Add(deps.AccessTTL).Truncate(time.Second)
	refreshExp := now.Add(deps.RefreshTTL).Truncate(time.Second)

	accessJTI, err := deps.NewTokenID()
	if err != nil {
		return minted{}, err
	}
	refreshJTI, err := deps.NewTokenID()
	if err != nil {
		return minted{}, err
	}

	access, err := deps.Codec.Issue(p, jwt.KindAccess, accessJTI, now, accessExp)
	if err != nil {
		return minted{}, err
	}
	refresh, err := deps.Codec.Issue(p, jwt.KindRefresh, refreshJTI, now, refreshExp)
	if err != nil {
		return minted{}, err
	}

	return minted{
		pair: TokenPair{
			AccessToken:      access,
			RefreshToken:     refresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
		accessJTI: accessJTI,
		record: ledger.Record{
			JTI:         refreshJTI,
			Subject:     strconv.FormatInt(p.UserID, 10),
			DeviceID:    p.DeviceID,
			HashedToken: ledger.HashOf(refresh),
			ExpiresAt:   refreshExp,
		},
	}, nil
}
