package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/storage"
	chstore "coinbase-trader/internal/storage/clickhouse"
	"coinbase-trader/internal/storage/file"
	"coinbase-trader/internal/storage/memory"
	"coinbase-trader/internal/storage/migrations"
	pgstore "coinbase-trader/internal/storage/postgres"
)

// botStores holds the storage implementations.
type botStores struct {
	snapshots storage.SnapshotStore
	orders    storage.OrderStore
	audit     storage.AuditStore // nil when the audit trail is off
}

// createStores creates the state and audit stores for the configured
// backends, running migrations on the database backends.
func createStores(ctx context.Context, cfg config.Config, secrets config.Secrets, logger zerolog.Logger) (*botStores, func(), error) {
	stores := &botStores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// State: snapshot + orders
	switch cfg.Storage.Backend {
	case "memory":
		logger.Warn().Msg("memory state store: positions and orders are lost on restart")
		stores.snapshots = memory.NewSnapshotStore()
		stores.orders = memory.NewOrderStore()
	case "file":
		snaps, err := file.NewSnapshotStore(cfg.Storage.StateDir)
		if err != nil {
			return nil, nil, err
		}
		orders, err := file.NewOrderStore(cfg.Storage.StateDir)
		if err != nil {
			return nil, nil, err
		}
		stores.snapshots = snaps
		stores.orders = orders
	case "postgres":
		pool, err := pgstore.NewPool(ctx, secrets.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.snapshots = pgstore.NewSnapshotStore(pool)
		stores.orders = pgstore.NewOrderStore(pool)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// Audit trail
	switch cfg.Storage.Audit {
	case "", "none":
	case "memory":
		stores.audit = memory.NewAuditStore()
	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, secrets.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.audit = chstore.NewAuditStore(conn)
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.Storage.Audit)
	}

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Str("audit", cfg.Storage.Audit).
		Msg("stores ready")
	return stores, cleanup, nil
}
