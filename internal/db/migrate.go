// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fieldvault/fieldsync/internal/errors"
)

// migration represents one ordered schema step. Migrations are embedded
// rather than read from disk so the engine works on mobile filesystems.
type migration struct {
	Version     int
	Description string
	SQL         string
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	owner_ref TEXT NOT NULL,
	parent_ref TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending'
		CHECK(sync_status IN ('synced', 'pending', 'conflict')),
	local_updated_at INTEGER NOT NULL DEFAULT 0,
	server_updated_at INTEGER NOT NULL DEFAULT 0,
	last_synced_at INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_owner ON records(owner_ref, is_deleted);
CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_ref);

CREATE TABLE IF NOT EXISTS media_assets (
	id TEXT PRIMARY KEY,
	local_path TEXT NOT NULL,
	server_url TEXT NOT NULL DEFAULT '',
	parent_record_ref TEXT NOT NULL,
	upload_status TEXT NOT NULL DEFAULT 'pending'
		CHECK(upload_status IN ('pending', 'uploading', 'uploaded', 'failed')),
	file_size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	uploaded_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_media_parent ON media_assets(parent_record_ref);
CREATE INDEX IF NOT EXISTS idx_media_status ON media_assets(upload_status);

CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	operation_type TEXT NOT NULL
		CHECK(operation_type IN ('create', 'update', 'delete', 'uploadMedia', 'finalizeParent')),
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 5,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_attempt_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_queue_order ON sync_queue(priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS conflict_log (
	id TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	local_timestamp INTEGER NOT NULL,
	remote_timestamp INTEGER NOT NULL,
	resolution TEXT NOT NULL,
	detected_at INTEGER NOT NULL
);
`

// migrations is the ordered list of schema steps.
var migrations = []migration{
	{Version: 1, Description: "initial sync engine schema", SQL: schemaV1},
}

// Migrate applies all pending migrations to the database.
func Migrate(db *sql.DB) error {
	if err := initMigrationTable(db); err != nil {
		return errors.Wrap(errors.ErrMigration, "failed to initialize migration table", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "failed to read schema version", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return errors.Wrap(errors.ErrMigration,
				fmt.Sprintf("migration %d (%s) failed", m.Version, m.Description), err)
		}
	}

	return nil
}

// initMigrationTable creates the schema_migrations table if it doesn't exist.
func initMigrationTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := db.Exec(query)
	return err
}

// currentVersion returns the highest applied schema version.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// apply runs a single migration inside a transaction and records it.
func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(m.SQL))
	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		m.Version, time.Now().Unix(), m.Description, hex.EncodeToString(sum[:]),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
