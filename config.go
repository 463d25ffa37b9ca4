package tokenring

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/MrEthical07/tokenring/keyring"
	"github.com/MrEthical07/tokenring/ledger"
)

// Config is the full engine configuration. It is copied on Build and never
// read again afterwards.
type Config struct {
	Keys    KeysConfig
	Tokens  TokensConfig
	Ledger  LedgerConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
KEYS CONFIG
====================================
*/

// KeysConfig names the HS256 secrets. Every secret must be 32-64 bytes and
// ActiveKID must be one of the kids.
type KeysConfig struct {
	ActiveKID string
	Secrets   map[string]string
}

/*
====================================
TOKENS CONFIG
====================================
*/

// TokensConfig sets token lifetimes. Both are whole seconds on the wire.
type TokensConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

/*
====================================
LEDGER CONFIG
====================================
*/

// LedgerConfig sets the Redis key layout used when the Engine builds its own
// ledger from WithRedis.
type LedgerConfig struct {
	RedisNamespace string
	RecordPrefix   string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	DefaultAccessTTL  = 10 * time.Minute
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

// DefaultConfig returns the defaults: 10 minute access tokens, 14 day refresh
// tokens, active kid "primary", metrics on. Secrets have no default.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Keys: KeysConfig{
			ActiveKID: keyring.DefaultActiveKID,
		},
		Tokens: TokensConfig{
			AccessTTL:  DefaultAccessTTL,
			RefreshTTL: DefaultRefreshTTL,
		},
		Ledger: LedgerConfig{
			RedisNamespace: ledger.DefaultNamespace,
			RecordPrefix:   ledger.DefaultRecordPrefix,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.Keys.Secrets = maps.Clone(c.Keys.Secrets)
	return out
}

// Validate checks c. Every failure wraps ErrInvalidConfig, and key ring
// failures also wrap the keyring sentinel.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	if _, err := c.keyRing(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Tokens.AccessTTL < time.Second {
		return fmt.Errorf("%w: Tokens.AccessTTL must be at least 1s", ErrInvalidConfig)
	}
	if c.Tokens.RefreshTTL < time.Second {
		return fmt.Errorf("%w: Tokens.RefreshTTL must be at least 1s", ErrInvalidConfig)
	}
	if c.Tokens.RefreshTTL <= c.Tokens.AccessTTL {
		return fmt.Errorf("%w: Tokens.RefreshTTL must exceed Tokens.AccessTTL", ErrInvalidConfig)
	}
	if c.Tokens.AccessTTL%time.Second != 0 || c.Tokens.RefreshTTL%time.Second != 0 {
		return fmt.Errorf("%w: token TTLs must be whole seconds", ErrInvalidConfig)
	}

	if strings.ContainsAny(c.Ledger.RedisNamespace, " \t\n") || strings.ContainsAny(c.Ledger.RecordPrefix, " \t\n") {
		return fmt.Errorf("%w: ledger key prefixes must not contain whitespace", ErrInvalidConfig)
	}

	if c.Audit.BufferSize < 0 {
		return fmt.Errorf("%w: Audit.BufferSize must be >= 0", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("Audit.BufferSize must be > 0 when audit is enabled"))
	}

	return nil
}

func (c *Config) keyRing() (*keyring.KeyRing, error) {
	return keyring.FromMap(c.Keys.ActiveKID, c.Keys.Secrets)
}
