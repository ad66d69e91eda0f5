package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

func result(key string, state domain.OrderState, created time.Time) domain.ExecutionResult {
	return domain.ExecutionResult{Order: domain.OrderIntent{
		IdempotencyKey: key,
		Symbol:         "BTC-USD",
		Side:           domain.SideBuy,
		State:          state,
		CreatedAt:      created,
	}}
}

func TestOrderStore_PutAndGet(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

	res := result("k1", domain.StateOpen, now)
	res.Order.ExchangeOrderID = "ex-1"
	res.Order.History = []domain.StateChange{{To: domain.StateOpen, At: now}}
	if err := store.Put(ctx, res); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Order.ExchangeOrderID != "ex-1" {
		t.Errorf("ExchangeOrderID mismatch: got %s, want ex-1", got.Order.ExchangeOrderID)
	}

	got.Order.History[0].Reason = "mutated"
	again, _ := store.Get(ctx, "k1")
	if again.Order.History[0].Reason != "" {
		t.Errorf("stored history mutated through returned copy")
	}

	// Put replaces.
	res.Order.State = domain.StateFilled
	if err := store.Put(ctx, res); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	again, _ = store.Get(ctx, "k1")
	if again.State() != domain.StateFilled {
		t.Errorf("State mismatch: got %s, want FILLED", again.State())
	}
}

func TestOrderStore_NotFound(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetByExchangeID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetByExchangeID(ctx, ""); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestOrderStore_GetByExchangeID(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	now := time.Now()

	a := result("k1", domain.StateFilled, now)
	a.Order.ExchangeOrderID = "ex-1"
	b := result("k2", domain.StateFilled, now)
	b.Order.ExchangeOrderID = "ex-2"
	_ = store.Put(ctx, a)
	_ = store.Put(ctx, b)

	got, err := store.GetByExchangeID(ctx, "ex-2")
	if err != nil {
		t.Fatalf("GetByExchangeID failed: %v", err)
	}
	if got.Order.IdempotencyKey != "k2" {
		t.Errorf("key mismatch: got %s, want k2", got.Order.IdempotencyKey)
	}
}

func TestOrderStore_ListUnresolved(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

	flagged := result("flagged", domain.StateFailed, base.Add(2*time.Minute))
	flagged.Order.RequiresReconciliation = true

	for _, res := range []domain.ExecutionResult{
		result("done", domain.StateFilled, base),
		result("rejected", domain.StateRejected, base),
		flagged,
		result("open", domain.StateOpen, base.Add(time.Minute)),
		result("partial", domain.StatePartialFill, base.Add(3*time.Minute)),
	} {
		if err := store.Put(ctx, res); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := store.ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("ListUnresolved failed: %v", err)
	}
	want := []string{"open", "flagged", "partial"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d unresolved, got %d", len(want), len(got))
	}
	for i, key := range want {
		if got[i].IdempotencyKey != key {
			t.Errorf("position %d: got %s, want %s", i, got[i].IdempotencyKey, key)
		}
	}
}

func TestOrderStore_InvalidInput(t *testing.T) {
	store := NewOrderStore()

	err := store.Put(context.Background(), domain.ExecutionResult{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
