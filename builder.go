package tokenring

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/tokenring/internal"
	internalaudit "github.com/MrEthical07/tokenring/internal/audit"
	"github.com/MrEthical07/tokenring/internal/flows"
	"github.com/MrEthical07/tokenring/jwt"
	"github.com/MrEthical07/tokenring/ledger"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	ledger ledger.Ledger

	clock     Clock
	logger    *slog.Logger
	auditSink AuditSink
	check     RefreshCheck

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLedger sets the refresh ledger directly. It takes precedence over
// WithRedis.
func (b *Builder) WithLedger(l ledger.Ledger) *Builder {
	b.ledger = l
	return b
}

// WithRedis builds a RedisLedger on client using Config.Ledger for the key
// layout.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClock injects the time source used for minting, verification and the
// Redis TTL computation. The default is time.Now.
func (b *Builder) WithClock(now Clock) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
		if b.config.Audit.BufferSize <= 0 {
			b.config.Audit.BufferSize = defaultConfig().Audit.BufferSize
		}
	}
	return b
}

// WithRefreshCheck installs an optional hook that re-authorizes the subject
// of every refresh before rotation.
func (b *Builder) WithRefreshCheck(check RefreshCheck) *Builder {
	b.check = check
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. An invalid
// key ring, TTL or missing ledger fails here, never at first use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := cfg.keyRing()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := b.ledger
	if store == nil {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: a ledger or redis client is required", ErrInvalidConfig)
		}
		store = ledger.NewRedisLedger(b.redis, ledger.RedisConfig{
			Namespace:    cfg.Ledger.RedisNamespace,
			RecordPrefix: cfg.Ledger.RecordPrefix,
			Now:          now,
		})
	}

	codec, err := jwt.NewCodec(jwt.Config{Keys: keys, Now: now})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		keys:    keys,
		codec:   codec,
		ledger:  store,
		now:     now,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	mintDeps := flows.MintDeps{
		Now:        now,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
		Codec:      codec,
		NewTokenID: internal.NewTokenID,
	}
	engine.flows = flows.Deps{
		Issue: flows.IssueDeps{
			Mint:        mintDeps,
			NewDeviceID: internal.NewDeviceID,
			Ledger:      store,
		},
		Refresh: flows.RefreshDeps{
			Mint:          mintDeps,
			Ledger:        store,
			Check:         b.check,
			ReuseDetected: ErrReuseDetected,
			Rejected:      ErrRefreshRejected,
			Warn:          logger.Warn,
		},
		Logout: flows.LogoutDeps{
			Codec:  codec,
			Ledger: store,
		},
	}

	b.built = true

	logger.Info("tokenring: engine built",
		"kid", keys.ActiveKID(),
		"kids", keys.Len(),
		"access_ttl", cfg.Tokens.AccessTTL,
		"refresh_ttl", cfg.Tokens.RefreshTTL,
		"audit", cfg.Audit.Enabled,
	)

	return engine, nil
}
