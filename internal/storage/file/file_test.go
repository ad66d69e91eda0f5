package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

var t0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func TestSnapshotStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewSnapshotStore(dir)
	require.NoError(t, err)

	_, err = store.Load(ctx, "main")
	require.ErrorIs(t, err, storage.ErrNotFound)

	snap := domain.Snapshot{Account: "main", Portfolio: domain.NewPortfolioState(1000, t0), Cooldowns: domain.NewCooldownState()}
	snap.Portfolio.Positions["ETH-USD"] = domain.Position{Symbol: "ETH-USD", Size: 0.5, AvgEntryPrice: 3000}
	saved, err := store.Save(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	reopened, err := NewSnapshotStore(dir)
	require.NoError(t, err)
	got, err := reopened.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 0.5, got.Portfolio.Positions["ETH-USD"].Size)
	assert.NotNil(t, got.Portfolio.BlockedSymbols)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot-main.json", entries[0].Name())
}

func TestSnapshotStore_VersionConflict(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	snap := domain.Snapshot{Account: "main", Portfolio: domain.NewPortfolioState(1000, t0), Cooldowns: domain.NewCooldownState()}
	_, err = store.Save(ctx, snap)
	require.NoError(t, err)

	_, err = store.Save(ctx, snap)
	require.ErrorIs(t, err, storage.ErrVersionConflict)
}

func TestSnapshotStore_RejectsPathAccount(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), domain.Snapshot{Account: "../escape"})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSnapshotStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot-main.json"), []byte("{not json"), 0o600))

	store, err := NewSnapshotStore(dir)
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "main")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestOrderStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewOrderStore(dir)
	require.NoError(t, err)

	o := domain.OrderIntent{
		IdempotencyKey:         "k1",
		Symbol:                 "BTC-USD",
		Side:                   domain.SideBuy,
		State:                  domain.StateFailed,
		ExchangeOrderID:        "ex-1",
		RequiresReconciliation: true,
		CreatedAt:              t0,
	}
	require.NoError(t, store.Put(ctx, domain.ExecutionResult{Order: o, Submitted: true}))
	require.NoError(t, store.Put(ctx, domain.ExecutionResult{Order: domain.OrderIntent{
		IdempotencyKey: "k2", Symbol: "ETH-USD", State: domain.StateFilled, CreatedAt: t0,
	}}))

	reopened, err := NewOrderStore(dir)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, got.Submitted)
	assert.True(t, got.Order.RequiresReconciliation)

	byID, err := reopened.GetByExchangeID(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, "k1", byID.Order.IdempotencyKey)

	unresolved, err := reopened.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "k1", unresolved[0].IdempotencyKey)
}

func TestOrderStore_FailedWriteKeepsCache(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := NewOrderStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, domain.ExecutionResult{Order: domain.OrderIntent{IdempotencyKey: "k1", State: domain.StateFilled}}))

	// Point the store at a directory that does not exist.
	store.path = filepath.Join(dir, "gone", "orders.json")
	err = store.Put(ctx, domain.ExecutionResult{Order: domain.OrderIntent{IdempotencyKey: "k2", State: domain.StateFilled}})
	require.Error(t, err)

	_, err = store.Get(ctx, "k2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, "k1")
	assert.NoError(t, err)
}
