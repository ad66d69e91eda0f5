package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

func newSnapshot(cash float64) domain.Snapshot {
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	return domain.Snapshot{
		Account:   "main",
		Portfolio: domain.NewPortfolioState(cash, now),
		Cooldowns: domain.NewCooldownState(),
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	saved, err := store.Save(ctx, newSnapshot(1000))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("Version mismatch: got %d, want 1", saved.Version)
	}

	got, err := store.Load(ctx, "main")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Portfolio.Cash != 1000 {
		t.Errorf("Cash mismatch: got %v, want 1000", got.Portfolio.Cash)
	}

	got.Portfolio.Cash = 900
	next, err := store.Save(ctx, got)
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("Version mismatch: got %d, want 2", next.Version)
	}
}

func TestSnapshotStore_NotFound(t *testing.T) {
	store := NewSnapshotStore()

	_, err := store.Load(context.Background(), "main")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotStore_VersionConflict(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if _, err := store.Save(ctx, newSnapshot(1000)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	a, _ := store.Load(ctx, "main")
	b, _ := store.Load(ctx, "main")

	if _, err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save a failed: %v", err)
	}
	if _, err := store.Save(ctx, b); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}
	// Creating over an existing snapshot also conflicts.
	if _, err := store.Save(ctx, newSnapshot(5)); !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict for version 0, got %v", err)
	}
}

func TestSnapshotStore_ReturnsCopy(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := newSnapshot(1000)
	snap.Portfolio.Positions["BTC-USD"] = domain.Position{Symbol: "BTC-USD", Size: 1}
	if _, err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap.Portfolio.Positions["BTC-USD"] = domain.Position{Symbol: "BTC-USD", Size: 9}

	got, _ := store.Load(ctx, "main")
	got.Portfolio.Positions["ETH-USD"] = domain.Position{Symbol: "ETH-USD"}

	again, _ := store.Load(ctx, "main")
	if again.Portfolio.Positions["BTC-USD"].Size != 1 {
		t.Errorf("stored position mutated through caller map")
	}
	if _, ok := again.Portfolio.Positions["ETH-USD"]; ok {
		t.Errorf("stored positions mutated through loaded copy")
	}
}

func TestSnapshotStore_ConcurrentSaves(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	if _, err := store.Save(ctx, newSnapshot(1000)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	base, _ := store.Load(ctx, "main")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Save(ctx, base); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("Expected exactly one save from the same version, got %d", succeeded)
	}
}

func TestSnapshotStore_InvalidInput(t *testing.T) {
	store := NewSnapshotStore()

	_, err := store.Save(context.Background(), domain.Snapshot{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
