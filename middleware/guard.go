package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokenring"
)

// AccessVerifier is satisfied by *tokenring.Engine.
type AccessVerifier interface {
	VerifyAccess(token string) (tokenring.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (tokenring.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(tokenring.Claims)
	return claims, ok
}

// WithClaims stores claims the way RequireAccess does. It is mostly useful in
// handler tests.
func WithClaims(ctx context.Context, claims tokenring.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

type guardConfig struct {
	accessCookie string
	onFailure    func(http.ResponseWriter, *http.Request, error)
}

type GuardOption func(*guardConfig)

// WithAccessCookie makes the guard fall back to the named cookie when there
// is no Authorization header. Pass "" to accept bearer tokens only.
func WithAccessCookie(name string) GuardOption {
	return func(c *guardConfig) { c.accessCookie = name }
}

// WithFailureHandler replaces the default plain 401 response.
func WithFailureHandler(fn func(http.ResponseWriter, *http.Request, error)) GuardOption {
	return func(c *guardConfig) { c.onFailure = fn }
}

// RequireAccess rejects requests without a valid access token. The token is
// read from "Authorization: Bearer" first, then from the access cookie.
func RequireAccess(v AccessVerifier, opts ...GuardOption) func(http.Handler) http.Handler {
	cfg := guardConfig{
		accessCookie: DefaultAccessCookie,
		onFailure:    unauthorized,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				cfg.onFailure(w, r, tokenring.ErrEngineNotReady)
				return
			}

			token, ok := accessToken(r, cfg.accessCookie)
			if !ok {
				cfg.onFailure(w, r, tokenring.ErrMalformed)
				return
			}

			claims, err := v.VerifyAccess(token)
			if err != nil {
				cfg.onFailure(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func accessToken(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if cookieName == "" {
		return "", false
	}
	return cookieValue(r, cookieName)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	status := http.StatusUnauthorized
	if tokenring.IsRetryable(err) {
		status = http.StatusServiceUnavailable
	}
	http.Error(w, http.StatusText(status), status)
}
