package jwt

import (
	"errors"
	"fmt"
)

// Verification errors. Every Verify failure wraps exactly one of these.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrUnknownKey       = errors.New("token signed with unknown key")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrKindMismatch     = errors.New("token kind mismatch")
	ErrClaimMissing     = errors.New("token claim missing")

	// ErrSubjectNotNumeric separates subject format drift from tampering.
	// It matches ErrClaimMissing under errors.Is.
	ErrSubjectNotNumeric = fmt.Errorf("%w: subject is not numeric", ErrClaimMissing)

	// ErrInvalidInput is returned by Issue for values that could never verify.
	ErrInvalidInput = errors.New("invalid token input")
)
