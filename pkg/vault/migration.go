package vault

import (
	"database/sql"
	"errors"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 is the original schema: profile, brokers, queries,
	// scans, opt-outs, extracted profiles, history events, attempts.
	SchemaVersion1 = 1
	// SchemaVersion2 adds the email-confirmation flow and the background
	// task event log.
	SchemaVersion2 = 2
	// CurrentSchemaVersion is the current schema version.
	CurrentSchemaVersion = SchemaVersion2
)

// getSchemaVersion returns the schema version stored in the database.
// Returns 1 when no version is recorded (legacy database).
func getSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrateSchema brings the database schema up to the current version.
func migrateSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	if version < SchemaVersion2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("vault: migration to v2 failed: %w", err)
		}
	}
	return nil
}

// migrateToV2 adds the email_confirmations and background_task_events
// tables. Idempotent: uses IF NOT EXISTS throughout.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS email_confirmations (
			profile_query_id INTEGER NOT NULL,
			broker_id INTEGER NOT NULL,
			extracted_profile_id INTEGER NOT NULL
				REFERENCES extracted_profiles(id) ON DELETE CASCADE,
			generated_email BLOB NOT NULL,
			attempt_id TEXT NOT NULL,
			link BLOB,
			link_obtained_date INTEGER,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (profile_query_id, broker_id, extracted_profile_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create email_confirmations: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS background_task_events (
			id INTEGER PRIMARY KEY,
			event_type TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create background_task_events: %w", err)
	}

	_, err = tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_background_task_events_timestamp
		ON background_task_events(timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to create background task event index: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	_, err = tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", SchemaVersion2)
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return tx.Commit()
}
