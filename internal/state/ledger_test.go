package state

import (
	"context"
	"testing"

	"github.com/soundkeep/soundkeep/internal/kv"
)

func TestLedger_StartsClean(t *testing.T) {
	l := LoadLedger(context.Background(), kv.NewMemory(), testLogger)

	if l.IsDirty() {
		t.Error("fresh ledger reports dirty")
	}
	if !l.Empty() {
		t.Error("fresh ledger not empty")
	}
}

func TestLedger_AddDirtyItemMarksDirty(t *testing.T) {
	l := LoadLedger(context.Background(), kv.NewMemory(), testLogger)
	ctx := context.Background()

	if err := l.AddDirtyItem(ctx, "rid-2"); err != nil {
		t.Fatalf("AddDirtyItem: %v", err)
	}
	if err := l.AddDirtyItem(ctx, "rid-1"); err != nil {
		t.Fatalf("AddDirtyItem: %v", err)
	}

	if !l.IsDirty() {
		t.Error("ledger not dirty after add")
	}
	if !l.HasDirtyItem("rid-1") || !l.HasDirtyItem("rid-2") {
		t.Error("dirty set missing added ids")
	}

	ids := l.DirtyItems()
	if len(ids) != 2 || ids[0] != "rid-1" || ids[1] != "rid-2" {
		t.Errorf("DirtyItems = %v, want sorted [rid-1 rid-2]", ids)
	}
}

func TestLedger_RemoveDirtyItemLeavesFlag(t *testing.T) {
	l := LoadLedger(context.Background(), kv.NewMemory(), testLogger)
	ctx := context.Background()

	if err := l.AddDirtyItem(ctx, "rid-1"); err != nil {
		t.Fatalf("AddDirtyItem: %v", err)
	}
	if err := l.RemoveDirtyItem(ctx, "rid-1"); err != nil {
		t.Fatalf("RemoveDirtyItem: %v", err)
	}

	if l.HasDirtyItem("rid-1") {
		t.Error("id still in dirty set")
	}
	// The flag is cleared only by the orchestrator once everything drained.
	if !l.IsDirty() {
		t.Error("dirty flag cleared by RemoveDirtyItem")
	}
	if !l.Empty() {
		t.Error("ledger should be empty")
	}

	if err := l.ClearDirty(ctx); err != nil {
		t.Fatalf("ClearDirty: %v", err)
	}
	if l.IsDirty() {
		t.Error("dirty flag still set after ClearDirty")
	}
}

func TestLedger_DeletionQueue(t *testing.T) {
	l := LoadLedger(context.Background(), kv.NewMemory(), testLogger)
	ctx := context.Background()

	if err := l.QueueDeletion(ctx, "rid-1"); err != nil {
		t.Fatalf("QueueDeletion: %v", err)
	}
	if err := l.QueueDeletion(ctx, "rid-2"); err != nil {
		t.Fatalf("QueueDeletion: %v", err)
	}
	// Idempotent.
	if err := l.QueueDeletion(ctx, "rid-1"); err != nil {
		t.Fatalf("QueueDeletion repeat: %v", err)
	}

	dels := l.Deletions()
	if len(dels) != 2 || dels[0] != "rid-1" || dels[1] != "rid-2" {
		t.Errorf("Deletions = %v, want queue order [rid-1 rid-2]", dels)
	}
	if !l.IsDirty() {
		t.Error("ledger not dirty after queueing a deletion")
	}

	if err := l.RemoveDeletion(ctx, "rid-1"); err != nil {
		t.Fatalf("RemoveDeletion: %v", err)
	}
	dels = l.Deletions()
	if len(dels) != 1 || dels[0] != "rid-2" {
		t.Errorf("Deletions = %v, want [rid-2]", dels)
	}
}

func TestLedger_SurvivesReload(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	l := LoadLedger(ctx, store, testLogger)
	if err := l.AddDirtyItem(ctx, "rid-1"); err != nil {
		t.Fatalf("AddDirtyItem: %v", err)
	}
	if err := l.QueueDeletion(ctx, "rid-9"); err != nil {
		t.Fatalf("QueueDeletion: %v", err)
	}

	// Simulate a process restart over the same store.
	reloaded := LoadLedger(ctx, store, testLogger)
	if !reloaded.IsDirty() {
		t.Error("dirty flag lost across reload")
	}
	if !reloaded.HasDirtyItem("rid-1") {
		t.Error("dirty id lost across reload")
	}
	dels := reloaded.Deletions()
	if len(dels) != 1 || dels[0] != "rid-9" {
		t.Errorf("Deletions after reload = %v, want [rid-9]", dels)
	}
}

func TestLedger_CorruptEntriesDegradeToClean(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "sync/dirty", "garbage"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "sync/dirty_ids", "garbage"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	l := LoadLedger(ctx, store, testLogger)
	if l.IsDirty() {
		t.Error("corrupt ledger should load clean")
	}
	if !l.Empty() {
		t.Error("corrupt ledger should load empty")
	}
}

func TestLedger_Wipe(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	l := LoadLedger(ctx, store, testLogger)
	if err := l.AddDirtyItem(ctx, "rid-1"); err != nil {
		t.Fatalf("AddDirtyItem: %v", err)
	}
	if err := l.QueueDeletion(ctx, "rid-2"); err != nil {
		t.Fatalf("QueueDeletion: %v", err)
	}

	if err := l.Wipe(ctx); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if l.IsDirty() || !l.Empty() {
		t.Error("ledger not clean after wipe")
	}

	reloaded := LoadLedger(ctx, store, testLogger)
	if reloaded.IsDirty() || !reloaded.Empty() {
		t.Error("wipe not persisted")
	}
}
