package replay

import (
	"os"
	"path/filepath"
	"testing"

	"ammEngine/internal/model"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewCheckpointStore(path, true)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("empty load = %v, %v", ok, err)
	}

	cp := Checkpoint{
		LastProcessedOp: 42,
		Engine:          model.Snapshot{Clock: 1_700_000_000, NextOrderID: 3},
		Ledger:          []model.BalanceRecord{{Token: "0x01", Owner: "0x02", Amount: "10"}},
	}
	if err := store.Save(cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load = %v, %v", ok, err)
	}
	if got.LastProcessedOp != 42 || got.Engine.NextOrderID != 3 || len(got.Ledger) != 1 {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}
	if got.Version != checkpointVersion || got.UpdatedAt == "" {
		t.Fatalf("missing metadata: %+v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestCheckpointStoreRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"last_processed_op":1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewCheckpointStore(path, true).Load(); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestCheckpointStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, false)
	if err := store.Save(Checkpoint{LastProcessedOp: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled store wrote a file: %v", err)
	}
}
