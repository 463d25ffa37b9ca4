package flows

import (
	"context"

	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/ledger"
)

// IssueFailureKind classifies issue failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureDeviceID
	IssueFailureMint
	IssueFailureStore
)

// IssueResult carries the new pair or failure metadata.
type IssueResult struct {
	Failure    IssueFailureKind
	Err        error
	Principal  jwt.Principal
	Pair       TokenPair
	AccessJTI  string
	RefreshJTI string
}

// IssueDeps captures issue flow dependencies.
type IssueDeps struct {
	Mint        MintDeps
	NewDeviceID func() (string, error)
	Ledger      ledger.Ledger
}

// RunIssue mints a pair for p and stores the refresh record. A missing device
// id is replaced with a fresh random one.
func RunIssue(ctx context.Context, p jwt.Principal, deps IssueDeps) IssueResult {
	if p.DeviceID == "" {
		id, err := deps.NewDeviceID()
		if err != nil {
			return IssueResult{Failure: IssueFailureDeviceID, Err: err, Principal: p}
		}
		p.DeviceID = id
	}

	m, err := mint(p, deps.Mint)
	if err != nil {
		return IssueResult{Failure: IssueFailureMint, Err: err, Principal: p}
	}

	if err := deps.Ledger.Store(ctx, m.record); err != nil {
		return IssueResult{
			Failure:    IssueFailureStore,
			Err:        err,
			Principal:  p,
			RefreshJTI: m.record.JTI,
		}
	}

	return IssueResult{
		Principal:  p,
		Pair:       m.pair,
		AccessJTI:  m.accessJTI,
		RefreshJTI: m.record.JTI,
	}
}
