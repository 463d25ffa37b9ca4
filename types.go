package tokenring

import (
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/tokenring/internal/audit"
	"github.com/MrEthical07/tokenring/internal/flows"
	"github.com/MrEthical07/tokenring/jwt"
)

// Principal is the identity a token pair is minted for.
type Principal = jwt.Principal

// Claims is the verified content of a token.
type Claims = jwt.Claims

// TokenKind distinguishes access from refresh tokens.
type TokenKind = jwt.Kind

const (
	TokenAccess  = jwt.KindAccess
	TokenRefresh = jwt.KindRefresh
)

// IssuedTokenPair is returned by Issue and Refresh. It is never persisted;
// moving it to the client is the caller's job.
type IssuedTokenPair = flows.TokenPair

// RefreshCheck re-authorizes the identity in a refresh token before it is
// rotated. A non-nil error revokes the presented token and fails the refresh
// with ErrRefreshRejected.
type RefreshCheck = flows.RefreshCheck

// Clock returns the current instant. Every expiry decision the Engine makes
// reads this one source.
type Clock func() time.Time

// AuditEvent is a structured audit record emitted by the Engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the Engine's audit dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel readable through Events().
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs each event through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
