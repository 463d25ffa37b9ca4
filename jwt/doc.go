// Package jwt encodes and verifies the HS256 tokens issued by tokenring.
//
// Tokens carry their kind (access or refresh) inside the signed payload and
// name their signing key in the "kid" header. Verification never falls back
// to the active key when a kid is unknown, and expiry is judged against an
// injected clock.
package jwt
