package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange/coinbase"
	"coinbase-trader/internal/exchange/paper"
	"coinbase-trader/internal/exchange/stub"
	"coinbase-trader/internal/execution"
	"coinbase-trader/internal/killswitch"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/storage/file"
	"coinbase-trader/internal/storage/memory"
)

func TestConnectorFor(t *testing.T) {
	readOnly, err := coinbase.NewClient("http://127.0.0.1:1", coinbase.WithReadOnly(true))
	require.NoError(t, err)
	writable, err := coinbase.NewClient("http://127.0.0.1:1", coinbase.WithReadOnly(false))
	require.NoError(t, err)
	market := marketdata.NewStatic()

	t.Run("paper uses the ledger", func(t *testing.T) {
		cfg := config.Default()
		cfg.Mode = domain.ModePaper
		conn, err := connectorFor(cfg, readOnly, market, false)
		require.NoError(t, err)
		ledger, ok := conn.(*paper.Ledger)
		require.True(t, ok)
		assert.InDelta(t, cfg.Paper.StartingCash, ledger.Cash(), 1e-9)
	})

	t.Run("live refuses a read-only client", func(t *testing.T) {
		cfg := config.Default()
		cfg.Mode = domain.ModeLive
		_, err := connectorFor(cfg, readOnly, market, true)
		assert.ErrorIs(t, err, execution.ErrReadOnlyConnector)

		conn, err := connectorFor(cfg, writable, market, true)
		require.NoError(t, err)
		assert.Same(t, writable, conn)
	})

	t.Run("dry run without keys uses a read-only stub", func(t *testing.T) {
		cfg := config.Default()
		conn, err := connectorFor(cfg, readOnly, market, false)
		require.NoError(t, err)
		s, ok := conn.(*stub.Connector)
		require.True(t, ok)
		assert.True(t, s.ReadOnly())

		balances, err := s.GetAccounts(context.Background())
		require.NoError(t, err)
		require.Len(t, balances, 1)
		assert.Equal(t, "USD", balances[0].Currency)
	})

	t.Run("dry run with keys reconciles against the exchange", func(t *testing.T) {
		conn, err := connectorFor(config.Default(), readOnly, market, true)
		require.NoError(t, err)
		assert.Same(t, readOnly, conn)
	})
}

func TestCreateStores(t *testing.T) {
	ctx := context.Background()

	t.Run("file state with memory audit", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.StateDir = filepath.Join(t.TempDir(), "state")
		stores, cleanup, err := createStores(ctx, cfg, config.Secrets{}, zerolog.Nop())
		require.NoError(t, err)
		defer cleanup()

		assert.IsType(t, &file.SnapshotStore{}, stores.snapshots)
		assert.IsType(t, &file.OrderStore{}, stores.orders)
		assert.IsType(t, &memory.AuditStore{}, stores.audit)
	})

	t.Run("memory state without audit", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Backend = "memory"
		cfg.Storage.Audit = "none"
		stores, cleanup, err := createStores(ctx, cfg, config.Secrets{}, zerolog.Nop())
		require.NoError(t, err)
		defer cleanup()

		assert.IsType(t, &memory.SnapshotStore{}, stores.snapshots)
		assert.Nil(t, stores.audit)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Backend = "sqlite"
		_, _, err := createStores(ctx, cfg, config.Secrets{}, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestHandleStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = domain.ModePaper
	cfg.Storage.Backend = "memory"
	cfg.Storage.StateDir = t.TempDir()
	cfg.KillSwitch.File = filepath.Join(t.TempDir(), "KILL")
	cfg.Proposals.Path = filepath.Join(t.TempDir(), "proposals.json")
	cfg.Exchange.BaseURL = "http://127.0.0.1:1"
	cfg.Symbols = nil

	newLogger := func(string) zerolog.Logger { return zerolog.Nop() }
	server, cleanup, err := newServer(context.Background(), cfg, config.Secrets{}, newLogger)
	require.NoError(t, err)
	defer cleanup()

	kill := killswitch.NewFile(cfg.KillSwitch.File)
	require.NoError(t, kill.Engage("maintenance"))

	rec := httptest.NewRecorder()
	server.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "PAPER", resp.Mode)
	assert.True(t, resp.KillSwitch)
	assert.Contains(t, resp.KillSwitchReason, "maintenance")
	assert.Nil(t, resp.LastCycle)
}
