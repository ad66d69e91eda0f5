// Package main checks that the bot can start: policy, secrets, the
// single-instance lock, the kill switch, storage and exchange reachability.
// It exits non-zero when any check fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange/coinbase"
	"coinbase-trader/internal/killswitch"
	"coinbase-trader/internal/lock"
	"coinbase-trader/internal/logging"
	chstore "coinbase-trader/internal/storage/clickhouse"
	pgstore "coinbase-trader/internal/storage/postgres"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", envOr("BOT_CONFIG", "config.yaml"), "Policy file (YAML)")
	envFile := flag.String("env-file", ".env", "Optional .env file with secrets")
	offline := flag.Bool("offline", false, "Skip storage and exchange connectivity checks")
	timeout := flag.Duration("timeout", 15*time.Second, "Deadline for connectivity checks")
	flag.Parse()

	logger := logging.Console("info", "preflight")

	if err := config.LoadEnvFiles(*envFile); err != nil {
		logger.Fatal().Err(err).Msg("load env files")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config", *configPath).Msg("FAIL policy")
		os.Exit(1)
	}
	logger.Info().
		Str("config", *configPath).
		Str("mode", string(cfg.Mode)).
		Str("account", cfg.Account).
		Msg("OK   policy")

	secrets := config.SecretsFromEnv()
	checks := []check{
		{"secrets", func(context.Context) error { return secrets.Check(cfg) }},
		{"lock", func(context.Context) error { return checkLock(cfg.Loop.LockFile) }},
		{"kill switch", func(context.Context) error { return checkKillSwitch(cfg, logger) }},
	}
	if !*offline {
		checks = append(checks,
			check{"storage", func(ctx context.Context) error { return checkStorage(ctx, cfg, secrets) }},
			check{"exchange", func(ctx context.Context) error { return checkExchange(ctx, cfg, secrets) }},
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := runChecks(ctx, checks, logger)
	if failed > 0 {
		logger.Error().Int("failed", failed).Msg("preflight failed")
		os.Exit(1)
	}
	logger.Info().Msg("preflight passed")
}

// runChecks runs every check and returns the number that failed.
func runChecks(ctx context.Context, checks []check, logger zerolog.Logger) int {
	failed := 0
	for _, c := range checks {
		if err := c.run(ctx); err != nil {
			failed++
			logger.Error().Err(err).Msg("FAIL " + c.name)
			continue
		}
		logger.Info().Msg("OK   " + c.name)
	}
	return failed
}

// checkLock fails when another instance holds the lock.
func checkLock(path string) error {
	lk, err := lock.Acquire(path)
	if err != nil {
		return err
	}
	return lk.Release()
}

// checkKillSwitch reports an engaged switch without failing; the bot starts
// and sweeps in that state. An unreadable switch file fails.
func checkKillSwitch(cfg config.Config, logger zerolog.Logger) error {
	engaged, reason := killswitch.NewFile(cfg.KillSwitch.File).Engaged()
	if !engaged {
		return nil
	}
	if _, err := os.Stat(cfg.KillSwitch.File); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kill switch: %s", reason)
	}
	logger.Warn().Str("reason", reason).Msg("kill switch engaged; no orders will be placed")
	return nil
}

func checkStorage(ctx context.Context, cfg config.Config, secrets config.Secrets) error {
	var errs []error
	if cfg.Storage.Backend == "postgres" {
		pool, err := pgstore.NewPool(ctx, secrets.PostgresDSN)
		if err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		} else {
			pool.Close()
		}
	}
	if cfg.Storage.Audit == "clickhouse" {
		conn, err := chstore.NewConn(ctx, secrets.ClickHouseDSN)
		if err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		} else {
			conn.Close()
		}
	}
	return errors.Join(errs...)
}

// checkExchange reads the reference product and, with credentials, the
// account balances. A LIVE policy must resolve to a writable client.
func checkExchange(ctx context.Context, cfg config.Config, secrets config.Secrets) error {
	opts := []coinbase.ClientOption{
		coinbase.WithTimeout(cfg.Exchange.Timeout),
		coinbase.WithMaxRetries(1),
		coinbase.WithReadOnly(cfg.Exchange.ReadOnly || cfg.Mode != domain.ModeLive),
	}
	hasKeys := secrets.APIKeyName != "" && secrets.APIPrivateKey != ""
	if hasKeys {
		signer, err := coinbase.NewSigner(secrets.APIKeyName, secrets.APIPrivateKey)
		if err != nil {
			return fmt.Errorf("load api key: %w", err)
		}
		opts = append(opts, coinbase.WithSigner(signer))
	}
	client, err := coinbase.NewClient(cfg.Exchange.BaseURL, opts...)
	if err != nil {
		return err
	}
	if cfg.Mode == domain.ModeLive && client.ReadOnly() {
		return errors.New("LIVE mode with a read-only client")
	}

	if _, err := client.Product(ctx, cfg.Risk.ReferenceSymbol); err != nil {
		return fmt.Errorf("product %s: %w", cfg.Risk.ReferenceSymbol, err)
	}
	if hasKeys {
		if _, err := client.GetAccounts(ctx); err != nil {
			return fmt.Errorf("accounts: %w", err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
