package memory

import (
	"context"
	"errors"
	"testing"

	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/storage"
)

func TestAuditStore_InsertBulkSkipsDuplicates(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	events := []domain.AuditEvent{
		{EventID: "e2", CycleID: "c1", Kind: "admission", Timestamp: 2000},
		{EventID: "e1", CycleID: "c1", Kind: "admission", Timestamp: 1000},
		{EventID: "e3", CycleID: "c2", Kind: "order", Timestamp: 3000},
	}
	if err := store.InsertBulk(ctx, events); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	// Replaying a cycle writes nothing new.
	if err := store.InsertBulk(ctx, events[:2]); err != nil {
		t.Fatalf("second InsertBulk failed: %v", err)
	}

	got, err := store.GetByCycle(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByCycle failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].EventID != "e1" || got[1].EventID != "e2" {
		t.Errorf("Expected events ordered by timestamp, got %s, %s", got[0].EventID, got[1].EventID)
	}
}

func TestAuditStore_GetByTimeRange(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	_ = store.InsertBulk(ctx, []domain.AuditEvent{
		{EventID: "a", Kind: "cycle", Timestamp: 1000},
		{EventID: "b", Kind: "cycle", Timestamp: 2000},
		{EventID: "c", Kind: "cycle", Timestamp: 3000},
	})

	got, err := store.GetByTimeRange(ctx, 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 events (inclusive range), got %d", len(got))
	}
}

func TestAuditStore_InvalidInput(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []domain.AuditEvent{
		{EventID: "ok", Kind: "cycle"},
		{EventID: "", Kind: "cycle"},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	// Validation happens before any write.
	got, _ := store.GetByTimeRange(ctx, 0, 1<<62)
	if len(got) != 0 {
		t.Errorf("Expected no events after rejected batch, got %d", len(got))
	}
}
