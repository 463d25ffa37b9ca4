package tokenring

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	internalaudit "github.com/MrEthical07/tokenring/internal/audit"
	"github.com/MrEthical07/tokenring/internal/flows"
	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/keyring"
	"github.com/MrEthical07/tokenring/ledger"
)

// Engine issues, verifies, rotates and revokes token pairs. It is safe for
// concurrent use once built.
type Engine struct {
	config  Config
	keys    *keyring.KeyRing
	codec   *jwt.Codec
	ledger  ledger.Ledger
	flows   flows.Deps
	now     Clock
	logger  *slog.Logger
	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close drains pending audit events. The ledger and its client are owned by
// the caller and are left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

// ActiveKID is the key id new tokens are signed with.
func (e *Engine) ActiveKID() string {
	if e == nil || e.keys == nil {
		return ""
	}
	return e.keys.ActiveKID()
}

// Ping checks the ledger backend when it supports health checks.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}
	if p, ok := e.ledger.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// failed counts err against op under its error kind.
func (e *Engine) failed(op Operation, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Fail(op, KindOf(err))
}

func (e *Engine) ready() bool {
	return e != nil && e.codec != nil && e.ledger != nil
}

// Issue mints a new pair for p and records the refresh token in the ledger.
// A non-empty deviceID overrides p.DeviceID; when both are empty a random
// device id is generated.
func (e *Engine) Issue(ctx context.Context, p Principal, deviceID string) (IssuedTokenPair, error) {
	if !e.ready() {
		return IssuedTokenPair{}, ErrEngineNotReady
	}
	if d := strings.TrimSpace(deviceID); d != "" {
		p.DeviceID = d
	}

	res := flows.RunIssue(ctx, p, e.flows.Issue)
	target := auditTarget{userID: res.Principal.UserID, deviceID: res.Principal.DeviceID, jti: res.RefreshJTI}

	if res.Failure != flows.IssueFailureNone {
		e.metricInc(MetricIssueFailure)
		e.failed(OpIssue, res.Err)
		if res.Failure == flows.IssueFailureStore {
			e.ledgerFailed(LedgerStore, target, res.Err)
		}
		e.emitAudit(ctx, auditEventIssueFailed, false, target, res.Err, nil)
		return IssuedTokenPair{}, res.Err
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventTokenIssued, true, target, nil, nil)
	return res.Pair, nil
}

// VerifyAccess checks an access token by signature, expiry and kind only. It
// never touches the ledger.
func (e *Engine) VerifyAccess(token string) (Claims, error) {
	if !e.ready() {
		return Claims{}, ErrEngineNotReady
	}

	start := e.now()
	claims, err := e.codec.Verify(token, jwt.KindAccess)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, e.now().Sub(start))
	}

	if err != nil {
		e.metricInc(MetricVerifyFailure)
		e.failed(OpVerify, err)
		return Claims{}, err
	}
	e.metricInc(MetricVerifySuccess)
	return claims, nil
}

// Refresh rotates a refresh token. On success the presented token is spent
// and a new pair carrying the same identity is returned.
//
// If the presented token is valid but no longer current in the ledger, every
// refresh token of its subject and device is revoked and ErrReuseDetected is
// returned. Callers must treat that as a forced logout.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (IssuedTokenPair, error) {
	if !e.ready() {
		return IssuedTokenPair{}, ErrEngineNotReady
	}

	start := e.now()
	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricRefreshLatency, e.now().Sub(start))
	}
	target := targetOf(res.Claims)
	if res.Failure != flows.RefreshFailureNone {
		e.failed(OpRefresh, res.Err)
	}

	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventTokenRefreshed, true, auditTarget{
			userID:   res.Claims.UserID,
			deviceID: res.Claims.DeviceID,
			jti:      res.RefreshJTI,
		}, nil, func() map[string]string {
			return map[string]string{"previous_jti": res.Claims.TokenID}
		})
		return res.Pair, nil

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshReuseDetected)
		e.logger.Warn("tokenring: refresh token reuse detected",
			"jti", res.Claims.TokenID,
			"subject", res.Claims.UserID,
			"device_id", res.Claims.DeviceID,
		)
		e.ledgerFailed(LedgerInvalidateFamily, target, res.Err)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, target, res.Err, nil)
		return IssuedTokenPair{}, res.Err

	case flows.RefreshFailureRejected:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricRefreshRejected)
		e.ledgerFailed(LedgerInvalidate, target, res.Err)
		e.emitAudit(ctx, auditEventRefreshRejected, false, target, res.Err, nil)
		return IssuedTokenPair{}, res.Err

	case flows.RefreshFailureRotate:
		e.metricInc(MetricRefreshFailure)
		e.ledgerFailed(LedgerRotate, target, res.Err)
		e.emitAudit(ctx, auditEventRefreshFailed, false, target, res.Err, nil)
		return IssuedTokenPair{}, res.Err

	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailed, false, target, res.Err, func() map[string]string {
			return map[string]string{"stage": refreshStage(res.Failure)}
		})
		return IssuedTokenPair{}, res.Err
	}
}

// Logout revokes the record behind refreshToken. Empty, garbage, expired and
// already revoked tokens are a no-op; only a ledger failure is returned.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res, err := flows.RunLogout(ctx, refreshToken, e.flows.Logout)
	target := targetOf(res.Claims)
	if err != nil {
		e.failed(OpLogout, err)
		e.ledgerFailed(LedgerInvalidate, target, err)
		e.emitAudit(ctx, auditEventLogout, false, target, err, nil)
		return err
	}

	if !res.Invalidated {
		e.metricInc(MetricLogoutNoop)
		if res.VerifyErr != nil {
			e.logger.Debug("tokenring: logout ignored unverifiable token", "error", KindOf(res.VerifyErr).String())
		}
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, target, nil, nil)
	return nil
}

func (e *Engine) ledgerFailed(op LedgerOp, target auditTarget, err error) {
	if !errors.Is(err, ErrBackendUnavailable) {
		return
	}
	e.metrics.LedgerFailed(op)
	e.logger.Error("tokenring: ledger operation failed",
		"op", op.String(),
		"jti", target.jti,
		"subject", strconv.FormatInt(target.userID, 10),
		"device_id", target.deviceID,
		"error", err,
	)
}

func refreshStage(f flows.RefreshFailureKind) string {
	switch f {
	case flows.RefreshFailureVerify:
		return "verify"
	case flows.RefreshFailureMint:
		return "mint"
	default:
		return "unknown"
	}
}
