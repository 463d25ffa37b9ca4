package jwt

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind separates access tokens from refresh tokens inside the signed payload.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is a known token kind.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Principal is the identity tokens are minted for. It is produced by the
// caller after a successful credential check.
type Principal struct {
	UserID      int64
	Email       string
	DisplayName string
	DeviceID    string
	Authorities []string
}

// Claims is the verified content of a token.
type Claims struct {
	TokenID     string
	UserID      int64
	Email       string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Kind        Kind
	Authorities []string
	DeviceID    string
}

// Principal rebuilds the identity carried by c.
func (c Claims) Principal() Principal {
	return Principal{
		UserID:      c.UserID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		DeviceID:    c.DeviceID,
		Authorities: append([]string(nil), c.Authorities...),
	}
}

// HasAuthority reports whether c carries the named authority.
func (c Claims) HasAuthority(name string) bool {
	for _, a := range c.Authorities {
		if a == name {
			return true
		}
	}
	return false
}

// wireClaims is the JSON payload. Registered claims supply sub, jti, iat and exp.
type wireClaims struct {
	TokenType string      `json:"token_type"`
	Email     string      `json:"email"`
	Auth      authorities `json:"auth"`
	DeviceID  string      `json:"device_id"`
	Name      string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// authorities is written as an array. Older issuers wrote a comma-separated
// string, which is still accepted on read.
type authorities []string

func (a authorities) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

func (a *authorities) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		*a = splitAuthorities(joined)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	out := list[:0]
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*a = out
	return nil
}

func splitAuthorities(joined string) []string {
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
