package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/tokenring"
	"github.com/MrEthical07/tokenring/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	claims tokenring.Claims
	err    error
	seen   string
}

func (f *fakeVerifier) VerifyAccess(token string) (tokenring.Claims, error) {
	f.seen = token
	return f.claims, f.err
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		_, _ = fmt.Fprintf(w, "%d", claims.UserID)
	})
}

func TestRequireAccessBearer(t *testing.T) {
	v := &fakeVerifier{claims: tokenring.Claims{UserID: 42}}
	h := RequireAccess(v)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
	assert.Equal(t, "abc.def.ghi", v.seen)
}

func TestRequireAccessCookieFallback(t *testing.T) {
	v := &fakeVerifier{claims: tokenring.Claims{UserID: 7}}
	h := RequireAccess(v)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: DefaultAccessCookie, Value: "from-cookie"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-cookie", v.seen)

	// Bearer-only guards ignore the cookie.
	h = RequireAccess(v, WithAccessCookie(""))(okHandler(t))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAccessFailures(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic Zm9v", want: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer t", err: tokenring.ErrExpired, want: http.StatusUnauthorized},
		{name: "backend", header: "Bearer t", err: fmt.Errorf("%w: down", tokenring.ErrBackendUnavailable), want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVerifier{err: tt.err}
			h := RequireAccess(v)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
		})
	}
}

func TestRequireAccessCustomFailureHandler(t *testing.T) {
	var got error
	v := &fakeVerifier{err: tokenring.ErrSignatureInvalid}
	h := RequireAccess(v, WithFailureHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}))(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, errors.Is(got, tokenring.ErrSignatureInvalid))
}

func TestRequireAuthority(t *testing.T) {
	h := RequireAuthority("ROLE_ADMIN")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(ctx context.Context) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(context.Background()))
	assert.Equal(t, http.StatusForbidden, serve(WithClaims(context.Background(), tokenring.Claims{Authorities: []string{"ROLE_USER"}})))
	assert.Equal(t, http.StatusNoContent, serve(WithClaims(context.Background(), tokenring.Claims{Authorities: []string{"ROLE_USER", "ROLE_ADMIN"}})))
}

func TestCookieTransportWriteAndClear(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewCookieTransport(CookieConfig{}, func() time.Time { return now })

	rec := httptest.NewRecorder()
	tr.Write(rec, tokenring.IssuedTokenPair{
		AccessToken:      "at",
		RefreshToken:     "rt",
		AccessExpiresAt:  now.Add(600 * time.Second),
		RefreshExpiresAt: now.Add(14 * 24 * time.Hour),
	})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	access, refresh := cookies[0], cookies[1]
	assert.Equal(t, DefaultAccessCookie, access.Name)
	assert.Equal(t, "at", access.Value)
	assert.Equal(t, 600, access.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.True(t, access.Secure)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)

	assert.Equal(t, DefaultRefreshCookie, refresh.Name)
	assert.Equal(t, 14*24*3600, refresh.MaxAge)
	assert.Equal(t, http.SameSiteStrictMode, refresh.SameSite)

	rec = httptest.NewRecorder()
	tr.Clear(rec)
	for _, c := range rec.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge, "cookie %s must expire", c.Name)
	}
}

func TestCookieTransportExpiredTokenGetsZeroMaxAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewCookieTransport(CookieConfig{Insecure: true}, func() time.Time { return now })

	rec := httptest.NewRecorder()
	tr.Write(rec, tokenring.IssuedTokenPair{AccessToken: "at", AccessExpiresAt: now.Add(-time.Minute)})

	c := rec.Result().Cookies()[0]
	assert.Equal(t, -1, c.MaxAge)
	assert.False(t, c.Secure)
}

func TestNormalizeSameSite(t *testing.T) {
	tests := map[string]http.SameSite{
		"":         http.SameSiteStrictMode,
		"STRICT":   http.SameSiteStrictMode,
		" none ":   http.SameSiteNoneMode,
		"lax":      http.SameSiteLaxMode,
		"whatever": http.SameSiteLaxMode,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSameSite(in, http.SameSiteStrictMode), "input %q", in)
	}
}

func TestCookieTransportRefreshToken(t *testing.T) {
	tr := NewCookieTransport(CookieConfig{RefreshName: "rt"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	_, ok := tr.RefreshToken(req)
	assert.False(t, ok)

	req.AddCookie(&http.Cookie{Name: "rt", Value: "token"})
	got, ok := tr.RefreshToken(req)
	assert.True(t, ok)
	assert.Equal(t, "token", got)
}

func TestRequireAccessWithEngine(t *testing.T) {
	cfg := tokenring.DefaultConfig()
	cfg.Keys.Secrets = map[string]string{"primary": "0123456789abcdef0123456789abcdef"}
	engine, err := tokenring.New().WithConfig(cfg).WithLedger(ledger.NewMemoryLedger(nil)).Build()
	require.NoError(t, err)
	defer engine.Close()

	pair, err := engine.Issue(context.Background(), tokenring.Principal{UserID: 42, Email: "a@b.com"}, "")
	require.NoError(t, err)

	h := RequireAccess(engine)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
