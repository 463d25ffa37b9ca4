package tokenring

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokenring/keyring"
)

// Environment variables read by LoadConfigFromEnv.
const (
	EnvActiveKID      = "JWT_ACTIVE_KID"
	EnvSecrets        = "JWT_SECRETS"
	EnvAccessTTL      = "JWT_ACCESS_TTL"
	EnvRefreshTTL     = "JWT_REFRESH_TTL"
	EnvNamespace      = "REFRESH_NAMESPACE"
	EnvRecordPrefix   = "REFRESH_RECORD_PREFIX"
	EnvAuditEnabled   = "TOKEN_AUDIT_ENABLED"
	EnvMetricsLatency = "TOKEN_METRICS_LATENCY"
)

// LoadConfigFromEnv overlays environment values on DefaultConfig and
// validates the result. lookup is usually os.LookupEnv.
//
// JWT_SECRETS uses the "kid:secret,kid2:secret2" format. TTLs accept Go
// durations ("10m") or bare integers meaning seconds. A missing or invalid
// JWT_SECRETS is an error; there is no fallback key.
func LoadConfigFromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()

	if v, ok := lookupTrimmed(lookup, EnvActiveKID); ok {
		cfg.Keys.ActiveKID = v
	}

	raw, _ := lookupTrimmed(lookup, EnvSecrets)
	keys, err := keyring.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvSecrets, err)
	}
	cfg.Keys.Secrets = make(map[string]string, len(keys))
	for _, k := range keys {
		cfg.Keys.Secrets[k.ID] = string(k.Secret)
	}

	if cfg.Tokens.AccessTTL, err = envDuration(lookup, EnvAccessTTL, cfg.Tokens.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.Tokens.RefreshTTL, err = envDuration(lookup, EnvRefreshTTL, cfg.Tokens.RefreshTTL); err != nil {
		return Config{}, err
	}

	if v, ok := lookupTrimmed(lookup, EnvNamespace); ok {
		cfg.Ledger.RedisNamespace = v
	}
	if v, ok := lookupTrimmed(lookup, EnvRecordPrefix); ok {
		cfg.Ledger.RecordPrefix = v
	}
	if cfg.Audit.Enabled, err = envBool(lookup, EnvAuditEnabled, cfg.Audit.Enabled); err != nil {
		return Config{}, err
	}
	if cfg.Metrics.EnableLatencyHistograms, err = envBool(lookup, EnvMetricsLatency, cfg.Metrics.EnableLatencyHistograms); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

func envDuration(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := lookupTrimmed(lookup, key)
	if !ok {
		return def, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs > maxDurationSeconds || secs < -maxDurationSeconds {
			return 0, fmt.Errorf("%w: %s: %d seconds overflows a duration", ErrInvalidConfig, key, secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func envBool(lookup func(string) (string, bool), key string, def bool) (bool, error) {
	v, ok := lookupTrimmed(lookup, key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return b, nil
}
