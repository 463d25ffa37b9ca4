package tokenring

import (
	"errors"

	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/keyring"
	"github.com/MrEthical07/tokenring/ledger"
)

// Token verification errors, re-exported from the jwt package.
var (
	ErrMalformed         = jwt.ErrMalformed
	ErrUnknownKey        = jwt.ErrUnknownKey
	ErrSignatureInvalid  = jwt.ErrSignatureInvalid
	ErrExpired           = jwt.ErrExpired
	ErrKindMismatch      = jwt.ErrKindMismatch
	ErrClaimMissing      = jwt.ErrClaimMissing
	ErrSubjectNotNumeric = jwt.ErrSubjectNotNumeric
	ErrInvalidPrincipal  = jwt.ErrInvalidInput
)

// Ledger and key ring errors, re-exported.
var (
	ErrBackendUnavailable = ledger.ErrBackendUnavailable
	ErrKeyRingEmpty       = keyring.ErrEmpty
	ErrActiveKeyMissing   = keyring.ErrActiveKeyMissing
	ErrSecretLength       = keyring.ErrSecretLength
)

var (
	// ErrReuseDetected means a presented refresh token no longer matched its
	// ledger record. The token's whole family has been revoked; the caller
	// must force a fresh login and must not retry.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRefreshRejected wraps an error returned by the refresh check hook.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind classifies any error returned by the Engine.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindMalformed
	KindUnknownKey
	KindSignatureInvalid
	KindExpired
	KindTokenKindMismatch
	KindClaimMissing
	KindReuseDetected
	KindBackendUnavailable
	KindRefreshRejected
	KindInvalidInput
	KindInternal
)

var errorKindNames = [...]string{
	KindNone:               "none",
	KindMalformed:          "malformed",
	KindUnknownKey:         "unknown_key",
	KindSignatureInvalid:   "signature_invalid",
	KindExpired:            "expired",
	KindTokenKindMismatch:  "kind_mismatch",
	KindClaimMissing:       "claim_missing",
	KindReuseDetected:      "reuse_detected",
	KindBackendUnavailable: "backend_unavailable",
	KindRefreshRejected:    "refresh_rejected",
	KindInvalidInput:       "invalid_input",
	KindInternal:           "internal",
}

const errorKindCount = len(errorKindNames)

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return "unknown"
	}
	return errorKindNames[k]
}

// KindOf maps err onto the error taxonomy. Reuse wins over every other kind
// so that a failed containment is still reported as a security event.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrReuseDetected):
		return KindReuseDetected
	case errors.Is(err, ErrRefreshRejected):
		return KindRefreshRejected
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrUnknownKey):
		return KindUnknownKey
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrKindMismatch):
		return KindTokenKindMismatch
	case errors.Is(err, ErrClaimMissing):
		return KindClaimMissing
	case errors.Is(err, ErrInvalidPrincipal):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// IsRetryable reports whether err is an infrastructure failure that may
// succeed on retry. Authentication outcomes are never retryable.
func IsRetryable(err error) bool {
	return KindOf(err) == KindBackendUnavailable
}

// IsAuthFailure reports whether err means the presented token must not be
// trusted (401-equivalent).
func IsAuthFailure(err error) bool {
	switch KindOf(err) {
	case KindNone, KindBackendUnavailable, KindInvalidInput, KindInternal:
		return false
	default:
		return true
	}
}
