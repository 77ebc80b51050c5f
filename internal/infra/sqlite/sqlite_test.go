package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/turtacn/inferserve/internal/domain"
	"github.com/turtacn/inferserve/internal/ledger"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "audit.db")); os.IsNotExist(err) {
		t.Error("audit.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

// ─── Lifecycle transitions ──────────────────────────────────────────────────

func TestRecordAndListTransitions(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordTransition("m1", domain.StatusInitializing, ""); err != nil {
		t.Fatalf("RecordTransition() error: %v", err)
	}
	if err := db.RecordTransition("m1", domain.StatusLoading, ""); err != nil {
		t.Fatalf("RecordTransition() error: %v", err)
	}
	if err := db.RecordTransition("m1", domain.StatusReady, ""); err != nil {
		t.Fatalf("RecordTransition() error: %v", err)
	}

	got, err := db.ListTransitions("m1")
	if err != nil {
		t.Fatalf("ListTransitions() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].Phase != domain.StatusInitializing || got[2].Phase != domain.StatusReady {
		t.Errorf("unexpected ordering: %+v", got)
	}
}

func TestRecordTransitionWithError(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordTransition("m1", domain.StatusError, "plugin load failed"); err != nil {
		t.Fatalf("RecordTransition() error: %v", err)
	}

	got, err := db.ListTransitions("m1")
	if err != nil {
		t.Fatalf("ListTransitions() error: %v", err)
	}
	if len(got) != 1 || got[0].ErrorMessage != "plugin load failed" {
		t.Errorf("unexpected transitions: %+v", got)
	}
}

func TestListTransitionsEmpty(t *testing.T) {
	db := newTestDB(t)

	got, err := db.ListTransitions("ghost")
	if err != nil {
		t.Fatalf("ListTransitions() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}

func TestPruneTransitions(t *testing.T) {
	db := newTestDB(t)

	if err := db.RecordTransition("m1", domain.StatusReady, ""); err != nil {
		t.Fatalf("RecordTransition() error: %v", err)
	}

	if err := db.PruneTransitions(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PruneTransitions() error: %v", err)
	}

	got, err := db.ListTransitions("m1")
	if err != nil {
		t.Fatalf("ListTransitions() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected transitions pruned, got %d", len(got))
	}
}

// ─── Performance snapshots ──────────────────────────────────────────────────

func TestSaveAndLoadSnapshot(t *testing.T) {
	db := newTestDB(t)

	snap := ledger.Snapshot{
		Total: 100, Success: 95, Failure: 5,
		EWMALatencyMs: 12.5, P50Ms: 10, P95Ms: 20, P99Ms: 30,
	}
	if err := db.SaveSnapshot("m1", snap); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}

	got, ok, err := db.LoadSnapshot("m1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if !ok {
		t.Fatal("LoadSnapshot() ok = false, want true")
	}
	if got != snap {
		t.Errorf("LoadSnapshot() = %+v, want %+v", got, snap)
	}
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveSnapshot("m1", ledger.Snapshot{Total: 1}); err != nil {
		t.Fatalf("first SaveSnapshot() error: %v", err)
	}
	if err := db.SaveSnapshot("m1", ledger.Snapshot{Total: 2}); err != nil {
		t.Fatalf("second SaveSnapshot() error: %v", err)
	}

	got, _, err := db.LoadSnapshot("m1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if got.Total != 2 {
		t.Errorf("Total = %d, want 2", got.Total)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	db := newTestDB(t)

	_, ok, err := db.LoadSnapshot("ghost")
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if ok {
		t.Error("LoadSnapshot() ok = true, want false for missing model")
	}
}

func TestDeleteSnapshot(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveSnapshot("m1", ledger.Snapshot{Total: 1}); err != nil {
		t.Fatalf("SaveSnapshot() error: %v", err)
	}
	if err := db.DeleteSnapshot("m1"); err != nil {
		t.Fatalf("DeleteSnapshot() error: %v", err)
	}

	_, ok, err := db.LoadSnapshot("m1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error: %v", err)
	}
	if ok {
		t.Error("expected snapshot deleted")
	}
}
