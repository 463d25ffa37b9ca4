// Package middleware adapts a tokenring Engine to net/http.
//
//   - [RequireAccess] verifies the access token on every request and puts the
//     claims in the request context.
//   - [RequireAuthority] additionally demands one authority.
//   - [CookieTransport] moves token pairs in and out of HttpOnly cookies.
//
// Access checks are stateless. The guard never touches the refresh ledger.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs itself.
//   - Refresh tokens implicitly. Rotation is always an explicit call.
package middleware
