package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SlappyBacon/pico/internal/store"
)

func setupTestStore(t *testing.T) *store.TransferStore {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	return store.NewTransferStore(db)
}

func TestTransferStore_Record(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()

	tr := &store.Transfer{
		Name:      "report.pdf",
		Size:      1024,
		Checksum:  "abc123",
		Direction: store.DirectionIn,
		Peer:      "127.0.0.1:5001",
	}
	if err := ts.Record(ctx, tr); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if tr.ID == 0 {
		t.Error("expected ID to be assigned")
	}
	if tr.CreatedAt == 0 {
		t.Error("expected CreatedAt to be set")
	}
}

func TestTransferStore_List(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		err := ts.Record(ctx, &store.Transfer{Name: name, Size: int64(i), CreatedAt: int64(100 + i)})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := ts.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(all))
	}
	if all[0].Name != "c.txt" {
		t.Errorf("expected newest first, got %q", all[0].Name)
	}

	limited, err := ts.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(limited))
	}
}

func TestTransferStore_ByName(t *testing.T) {
	ts := setupTestStore(t)
	ctx := context.Background()

	_ = ts.Record(ctx, &store.Transfer{Name: "a.txt", Direction: store.DirectionIn})
	_ = ts.Record(ctx, &store.Transfer{Name: "b.txt", Direction: store.DirectionIn})
	_ = ts.Record(ctx, &store.Transfer{Name: "a.txt", Direction: store.DirectionOut})

	got, err := ts.ByName(ctx, "a.txt")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(got))
	}
	for _, tr := range got {
		if tr.Name != "a.txt" {
			t.Errorf("unexpected transfer %q", tr.Name)
		}
	}
}

func TestTransferStore_ByName_NotFound(t *testing.T) {
	ts := setupTestStore(t)

	got, err := ts.ByName(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no transfers, got %d", len(got))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite3")

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ts := store.NewTransferStore(db)
	if err := ts.Record(context.Background(), &store.Transfer{Name: "kept.txt"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	_ = store.Close(db)

	db, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = store.Close(db) }()

	got, err := store.NewTransferStore(db).List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "kept.txt" {
		t.Errorf("expected persisted transfer, got %+v", got)
	}
}
