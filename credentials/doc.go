// Package credentials holds argon2id password hashing and a small in-memory
// account directory used by the example server and load test.
//
// It is deliberately outside the token core: tokenring never looks up users.
// A Directory can re-authorize refreshes through its RefreshCheck method.
package credentials
