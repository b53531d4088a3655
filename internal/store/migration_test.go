package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/gwlsn/restreamer/internal/jobs"
)

func TestMigrate_FreshDatabase(t *testing.T) {
	s := newTestStore(t)

	version, err := currentVersion(s.db)
	if err != nil {
		t.Fatalf("currentVersion: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema v%d, got v%d", schemaVersion, version)
	}
}

func TestMigrate_V1ToV2(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	// Build a v1 database by hand
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(versionTable); err != nil {
		t.Fatalf("version table: %v", err)
	}
	if err := applyMigration(db, migrations[0]); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	_, err = db.Exec(`INSERT INTO streams (id, name, destination_key, source_path, status, schedule, created_at)
		VALUES ('old', 'Old', 'k', '/v.mp4', 'completed', '{"type":"manual"}', '2024-01-01T00:00:00.000000000Z')`)
	if err != nil {
		t.Fatalf("seed v1 row: %v", err)
	}
	db.Close()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen with migration: %v", err)
	}
	defer s.Close()

	version, _ := currentVersion(s.db)
	if version != 2 {
		t.Errorf("expected v2 after migration, got v%d", version)
	}

	got, err := s.Get("old")
	if err != nil || got == nil {
		t.Fatalf("old row unreadable after migration: %v", err)
	}
	if got.Status != jobs.StatusCompleted || got.LastElapsedSeconds != nil {
		t.Errorf("unexpected migrated row: %+v", got)
	}
	if err := s.UpdateLastElapsed("old", 42); err != nil {
		t.Fatalf("new column not writable: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := NewSQLiteStore(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}

	db, _ := sql.Open("sqlite", dbPath)
	defer db.Close()
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if rows != len(migrations) {
		t.Errorf("expected %d version rows, got %d", len(migrations), rows)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "future.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.db.Exec(`INSERT INTO schema_version (version) VALUES (99)`)
	s.Close()

	if _, err := NewSQLiteStore(dbPath); err == nil {
		t.Error("expected error opening a database with a newer schema")
	}
}
