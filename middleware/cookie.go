package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/tokenring"
)

const (
	DefaultAccessCookie  = "tokenring_at"
	DefaultRefreshCookie = "tokenring_rt"
)

// CookieConfig describes both token cookies. Zero values take the defaults:
// names tokenring_at/tokenring_rt, path "/", SameSite Lax for access and
// Strict for refresh. Secure and HttpOnly are always set unless Insecure is
// true, which is meant for plain-http development only.
type CookieConfig struct {
	AccessName      string
	RefreshName     string
	Path            string
	RefreshPath     string
	Domain          string
	AccessSameSite  string
	RefreshSameSite string
	Insecure        bool
}

// CookieTransport writes and clears the token pair as cookies.
type CookieTransport struct {
	cfg             CookieConfig
	accessSameSite  http.SameSite
	refreshSameSite http.SameSite
	now             func() time.Time
}

// NewCookieTransport normalizes cfg. now may be nil for time.Now.
func NewCookieTransport(cfg CookieConfig, now func() time.Time) *CookieTransport {
	if cfg.AccessName == "" {
		cfg.AccessName = DefaultAccessCookie
	}
	if cfg.RefreshName == "" {
		cfg.RefreshName = DefaultRefreshCookie
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = cfg.Path
	}
	if now == nil {
		now = time.Now
	}
	return &CookieTransport{
		cfg:             cfg,
		accessSameSite:  NormalizeSameSite(cfg.AccessSameSite, http.SameSiteLaxMode),
		refreshSameSite: NormalizeSameSite(cfg.RefreshSameSite, http.SameSiteStrictMode),
		now:             now,
	}
}

// NormalizeSameSite maps a case-insensitive "lax", "strict" or "none" onto
// http.SameSite. Empty input yields def; anything else yields Lax.
func NormalizeSameSite(value string, def http.SameSite) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return def
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// AccessCookieName is the cookie RequireAccess should fall back to.
func (t *CookieTransport) AccessCookieName() string { return t.cfg.AccessName }

// Write sets both cookies. Max-Age is the time left until each token expires.
func (t *CookieTransport) Write(w http.ResponseWriter, pair tokenring.IssuedTokenPair) {
	now := t.now()
	http.SetCookie(w, t.cookie(t.cfg.AccessName, t.cfg.Path, t.accessSameSite, pair.AccessToken, maxAge(now, pair.AccessExpiresAt)))
	http.SetCookie(w, t.cookie(t.cfg.RefreshName, t.cfg.RefreshPath, t.refreshSameSite, pair.RefreshToken, maxAge(now, pair.RefreshExpiresAt)))
}

// Clear expires both cookies on the client.
func (t *CookieTransport) Clear(w http.ResponseWriter) {
	http.SetCookie(w, t.cookie(t.cfg.AccessName, t.cfg.Path, t.accessSameSite, "", -1))
	http.SetCookie(w, t.cookie(t.cfg.RefreshName, t.cfg.RefreshPath, t.refreshSameSite, "", -1))
}

// RefreshToken returns the refresh cookie value, if present and non-empty.
func (t *CookieTransport) RefreshToken(r *http.Request) (string, bool) {
	return cookieValue(r, t.cfg.RefreshName)
}

// AccessToken returns the access cookie value, if present and non-empty.
func (t *CookieTransport) AccessToken(r *http.Request) (string, bool) {
	return cookieValue(r, t.cfg.AccessName)
}

func (t *CookieTransport) cookie(name, path string, sameSite http.SameSite, value string, age int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   t.cfg.Domain,
		MaxAge:   age,
		Secure:   !t.cfg.Insecure,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

// maxAge is whole seconds until exp. An already expired token gets -1, which
// net/http renders as "Max-Age=0".
func maxAge(now, exp time.Time) int {
	left := exp.Sub(now)
	if left < time.Second {
		return -1
	}
	return int(left / time.Second)
}

func cookieValue(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}
