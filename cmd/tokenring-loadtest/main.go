// Command tokenring-loadtest races concurrent refreshes of the same refresh
// token and checks that exactly one of them wins per session.
//
//	tokenring-loadtest -sessions 1000 -racers 8 -ledger redis
//
// With -ledger redis and no REDIS_ADDR an in-process miniredis is used.
// JWT_SECRETS and the other engine variables are read from the environment
// (and a .env file, if present); a random key is generated when unset.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrEthical07/tokenring"
	"github.com/MrEthical07/tokenring/internal/logx"
	"github.com/MrEthical07/tokenring/ledger"
	"github.com/MrEthical07/tokenring/ledger/sqlledger"
	"github.com/MrEthical07/tokenring/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 1000, "number of sessions to issue")
		racers      = flag.Int("racers", 8, "concurrent refreshes per session")
		concurrency = flag.Int("concurrency", 256, "maximum in-flight operations")
		verifyOps   = flag.Int("verify-ops", 100000, "access verifications in the verify phase")
		backend     = flag.String("ledger", "redis", "ledger backend: redis, sqlite or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; defaults to REDIS_ADDR, then miniredis")
		sqliteDSN   = flag.String("sqlite", "file:loadtest.db?mode=memory&cache=shared", "sqlite DSN for -ledger sqlite")
		showMetrics = flag.Bool("metrics", false, "print engine metrics in Prometheus format")
	)
	flag.Parse()

	_ = godotenv.Load()
	logger := logx.New(logx.FromEnv("tokenring-loadtest", os.LookupEnv))

	if *sessions <= 0 || *racers <= 0 || *concurrency <= 0 || *verifyOps <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, racers, concurrency and verify-ops must be > 0")
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg.Metrics.EnableLatencyHistograms = true

	builder := tokenring.New().WithConfig(cfg).WithLogger(logger)
	cleanup, err := attachLedger(builder, *backend, *redisAddr, *sqliteDSN, logger)
	if err != nil {
		logger.Error("ledger", "backend", *backend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := builder.Build()
	if err != nil {
		logger.Error("engine build", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	report, err := runRace(context.Background(), engine, raceOptions{
		sessions:    *sessions,
		racers:      *racers,
		concurrency: *concurrency,
		verifyOps:   *verifyOps,
	})
	if err != nil {
		logger.Error("race", "error", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	fmt.Printf("refresh: %s\n", report.refreshStats)
	fmt.Printf("verify:  %s\n", report.verifyStats)
	if *showMetrics {
		fmt.Print(prometheus.NewPrometheusExporter(engine).Render())
	}

	if bad := report.badSessions(); len(bad) > 0 {
		o := report.outcomes[bad[0]]
		fmt.Fprintf(os.Stderr, "FAIL: %d sessions without exactly one winner (first: session %d winners=%d reuse=%d other=%d)\n",
			len(bad), bad[0], o.winners, o.reuse, o.other)
		os.Exit(1)
	}
	fmt.Printf("OK: %d sessions, one winner each\n", *sessions)
}

func loadConfig() (tokenring.Config, error) {
	if _, ok := os.LookupEnv(tokenring.EnvSecrets); ok {
		return tokenring.LoadConfigFromEnv(os.LookupEnv)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return tokenring.Config{}, err
	}
	cfg := tokenring.DefaultConfig()
	cfg.Keys.Secrets = map[string]string{cfg.Keys.ActiveKID: hex.EncodeToString(secret)}
	return cfg, cfg.Validate()
}

// attachLedger points b at the selected backend and returns its cleanup.
func attachLedger(b *tokenring.Builder, kind, redisAddr, dsn string, logger *slog.Logger) (func(), error) {
	switch kind {
	case "memory":
		b.WithLedger(ledger.NewMemoryLedger(nil))
		return func() {}, nil

	case "sqlite":
		store, err := sqlledger.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("using sqlite ledger", "dsn", dsn)
		b.WithLedger(store)
		return func() { _ = store.Close() }, nil

	case "redis":
		addr := redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		var mr *miniredis.Miniredis
		if addr == "" {
			var err error
			if mr, err = miniredis.Run(); err != nil {
				return nil, err
			}
			addr = mr.Addr()
			logger.Info("using miniredis", "addr", addr)
		} else {
			logger.Info("using redis", "addr", addr)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		b.WithRedis(client)
		return func() {
			_ = client.Close()
			if mr != nil {
				mr.Close()
			}
		}, nil

	default:
		return nil, fmt.Errorf("unknown ledger %q", kind)
	}
}
