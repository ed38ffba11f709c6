package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// testDB creates a temporary test database.
func testDB(t *testing.T) *DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := New(Config{
		Path:        dbPath,
		Debug:       false,
		MaxIdleConn: 1,
		MaxOpenConn: 1,
	})
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})

	return db
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "wearsync.db")

	db, err := New(DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	}()

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	// Verify path is stored correctly
	if db.Path() != dbPath {
		t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
	}
}

func TestDeviceIDPersists(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "wearsync.db")

	db1, err := New(DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	id1, err := db1.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if id1 == "" {
		t.Fatal("device id was not seeded")
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopen: the id must survive.
	db2, err := New(DefaultConfig(dbPath))
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer func() { _ = db2.Close() }()

	id2, err := db2.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if id2 != id1 {
		t.Errorf("device id changed across reopen: %v != %v", id2, id1)
	}
}

func TestSyncMeta(t *testing.T) {
	db := testDB(t)

	if err := db.SetSyncMeta(models.SyncMetaLastMetaSync, "2026-08-28T10:00:00Z"); err != nil {
		t.Fatalf("SetSyncMeta() error = %v", err)
	}

	got, err := db.GetSyncMeta(models.SyncMetaLastMetaSync)
	if err != nil {
		t.Fatalf("GetSyncMeta() error = %v", err)
	}
	if got != "2026-08-28T10:00:00Z" {
		t.Errorf("GetSyncMeta() = %v", got)
	}

	// Overwrite
	if err := db.SetSyncMeta(models.SyncMetaLastMetaSync, "later"); err != nil {
		t.Fatalf("SetSyncMeta() overwrite error = %v", err)
	}
	got, _ = db.GetSyncMeta(models.SyncMetaLastMetaSync)
	if got != "later" {
		t.Errorf("GetSyncMeta() after overwrite = %v", got)
	}

	// Missing key yields empty string, no error
	got, err = db.GetSyncMeta("nonexistent")
	if err != nil || got != "" {
		t.Errorf("GetSyncMeta(missing) = %q, %v", got, err)
	}
}

func TestGetStats(t *testing.T) {
	db := testDB(t)

	rec := &models.Recording{
		ID:         "rec-1",
		Title:      "test",
		DeviceID:   "dev-1",
		SyncStatus: models.SyncPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := db.CreateRecording(rec); err != nil {
		t.Fatalf("CreateRecording() error = %v", err)
	}

	op := &models.QueuedOperation{
		ID:        "op-1",
		Type:      models.OpSyncMetadata,
		Priority:  models.PriorityNormal,
		CreatedAt: time.Now(),
	}
	if err := db.EnqueueOperation(op); err != nil {
		t.Fatalf("EnqueueOperation() error = %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalRecordings != 1 {
		t.Errorf("TotalRecordings = %d, want 1", stats.TotalRecordings)
	}
	if stats.PendingRecordings != 1 {
		t.Errorf("PendingRecordings = %d, want 1", stats.PendingRecordings)
	}
	if stats.QueuedOperations != 1 {
		t.Errorf("QueuedOperations = %d, want 1", stats.QueuedOperations)
	}
	if stats.FailedOperations != 0 {
		t.Errorf("FailedOperations = %d, want 0", stats.FailedOperations)
	}
	if stats.StoreSizeBytes == 0 {
		t.Error("StoreSizeBytes = 0, want > 0")
	}
}
