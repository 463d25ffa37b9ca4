// Package internal generates token and device identifiers.
//
// Sub-packages:
//
//   - audit: asynchronous event dispatch with ULID event ids
//   - flows: issue, refresh and logout orchestration over the codec and ledger
//   - logx: slog setup and request logging for the binaries
//   - throttle: Redis failed-login counters
package internal
