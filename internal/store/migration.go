package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gwlsn/restreamer/internal/logger"
)

// schemaVersion is the version a fully migrated database reports.
const schemaVersion = 2

// migration brings the schema from version-1 up to version.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS streams (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				destination_key TEXT NOT NULL,
				source_path TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'idle',
				schedule TEXT NOT NULL,
				started_at TEXT,
				stopped_at TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_streams_created_at ON streams(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_streams_status ON streams(status)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`ALTER TABLE streams ADD COLUMN last_elapsed_seconds INTEGER`,
		},
	},
}

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
)`

// currentVersion returns 0 for a fresh database.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// migrate applies every migration newer than the stored version. Each
// migration runs in its own transaction together with its version row.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(versionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, schemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
		if version > 0 {
			logger.Info("Migrated database schema", "from", m.version-1, "to", m.version)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record schema v%d: %w", m.version, err)
	}
	return tx.Commit()
}
