// Package tokenring issues and rotates HS256 JWT access/refresh token pairs
// backed by a refresh-token ledger.
//
// Access tokens are stateless: [Engine.VerifyAccess] checks signature, expiry
// and kind and never touches the ledger. Refresh tokens are single-use. Each
// one has exactly one ledger record, and [Engine.Refresh] swaps that record
// for a new one atomically. Presenting a refresh token whose record has
// already been swapped revokes every token of the same subject and device
// and fails with [ErrReuseDetected].
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # What this package must NOT do
//
//   - Look up users. Identity in a refreshed pair is copied from the old
//     token; use [Builder.WithRefreshCheck] to re-authorize.
//   - Log token strings or secrets.
//   - Read the wall clock directly. All instants come from the injected
//     [Clock].
package tokenring
