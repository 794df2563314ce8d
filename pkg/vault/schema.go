package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/delistd/delistctl/pkg/telemetry"

	_ "modernc.org/sqlite"
)

const (
	// DBFileName is the database file inside the data directory.
	DBFileName = "removal.db"

	// FileMode restricts the database file to the owner.
	FileMode = 0600
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		birth_year INTEGER NOT NULL DEFAULT 0,
		created_date INTEGER NOT NULL,
		updated_date INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profile_names (
		id INTEGER PRIMARY KEY,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		first BLOB NOT NULL,
		middle BLOB NOT NULL,
		last BLOB NOT NULL,
		suffix BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profile_addresses (
		id INTEGER PRIMARY KEY,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		street BLOB NOT NULL,
		city BLOB NOT NULL,
		state BLOB NOT NULL,
		zip BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profile_phones (
		id INTEGER PRIMARY KEY,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		number BLOB NOT NULL
	)`,
	// parent is a logical grouping by broker name; deliberately no FK.
	`CREATE TABLE IF NOT EXISTS brokers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		parent TEXT NOT NULL DEFAULT '',
		optout_type TEXT NOT NULL DEFAULT 'formOptOut',
		steps_json TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS profile_queries (
		id INTEGER PRIMARY KEY,
		profile_id INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		first BLOB NOT NULL,
		middle BLOB NOT NULL,
		last BLOB NOT NULL,
		city BLOB NOT NULL,
		state BLOB NOT NULL,
		birth_year INTEGER NOT NULL DEFAULT 0,
		deprecated INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS scans (
		broker_id INTEGER NOT NULL REFERENCES brokers(id) ON DELETE CASCADE,
		profile_query_id INTEGER NOT NULL REFERENCES profile_queries(id) ON DELETE CASCADE,
		last_run_date INTEGER,
		preferred_run_date INTEGER,
		PRIMARY KEY (broker_id, profile_query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scan_history_events (
		id INTEGER PRIMARY KEY,
		broker_id INTEGER NOT NULL,
		profile_query_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		matches_found INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (broker_id, profile_query_id)
			REFERENCES scans(broker_id, profile_query_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS extracted_profiles (
		id INTEGER PRIMARY KEY,
		broker_id INTEGER NOT NULL REFERENCES brokers(id) ON DELETE CASCADE,
		profile_query_id INTEGER NOT NULL REFERENCES profile_queries(id) ON DELETE CASCADE,
		content BLOB NOT NULL,
		created_date INTEGER NOT NULL,
		removed_date INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS optouts (
		broker_id INTEGER NOT NULL,
		profile_query_id INTEGER NOT NULL,
		extracted_profile_id INTEGER NOT NULL UNIQUE
			REFERENCES extracted_profiles(id) ON DELETE CASCADE,
		created_date INTEGER NOT NULL,
		last_run_date INTEGER,
		preferred_run_date INTEGER,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		submitted_success_date INTEGER,
		seven_day_pixel_fired INTEGER NOT NULL DEFAULT 0,
		fourteen_day_pixel_fired INTEGER NOT NULL DEFAULT 0,
		twenty_one_day_pixel_fired INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (broker_id, profile_query_id, extracted_profile_id)
	)`,
	`CREATE TABLE IF NOT EXISTS optout_history_events (
		id INTEGER PRIMARY KEY,
		broker_id INTEGER NOT NULL,
		profile_query_id INTEGER NOT NULL,
		extracted_profile_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (broker_id, profile_query_id, extracted_profile_id)
			REFERENCES optouts(broker_id, profile_query_id, extracted_profile_id) ON DELETE CASCADE
	)`,
	// One active attempt per extracted profile; saving replaces the row.
	`CREATE TABLE IF NOT EXISTS optout_attempts (
		extracted_profile_id INTEGER PRIMARY KEY
			REFERENCES extracted_profiles(id) ON DELETE CASCADE,
		attempt_id TEXT NOT NULL,
		date_started INTEGER NOT NULL,
		last_stage_date INTEGER
	)`,
}

// Store owns the physical database connection and schema. It has no
// encryption awareness; rows pass through as-is. Writes are serialized
// through a single writer mutex while reads share the pool.
type Store struct {
	db      *sql.DB
	q       querier
	writeMu *sync.Mutex
	inTx    bool
	sink    telemetry.Sink
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the database at path with production pragmas,
// verifies its integrity, runs schema creation and migrations, and returns
// the store. An irrecoverably corrupt database file is moved aside and
// rebuilt from scratch; this surfaces as a DatabaseRecreated telemetry
// event, never silently.
func Open(path string, sink telemetry.Sink) (*Store, error) {
	if sink == nil {
		sink = telemetry.Discard
	}

	db, err := openAndCheck(path)
	if err != nil {
		// Rebuild only for corruption of an existing file.
		if !errRequiresRebuild(err) {
			return nil, fmt.Errorf("%w: open: %w", ErrDatabase, err)
		}
		backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, backup); renameErr != nil {
			return nil, fmt.Errorf("%w: failed to move corrupt database aside: %w", ErrDatabase, renameErr)
		}
		db, err = openAndCheck(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reopen after rebuild: %w", ErrDatabase, err)
		}
		sink.Record(telemetry.Event{
			Type:      telemetry.DatabaseRecreated,
			Operation: "open",
			Detail:    filepath.Base(backup),
			Timestamp: time.Now().UTC(),
		})
	}

	store := &Store{db: db, q: db, writeMu: &sync.Mutex{}, sink: sink}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if path != ":memory:" {
		if err := os.Chmod(path, FileMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("vault: failed to set database permissions: %w", err)
		}
	}
	return store, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns(1) keeps all
// queries on the same in-memory database; Close is registered via t.Cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	store, err := Open(":memory:", telemetry.Discard)
	if err != nil {
		t.Fatalf("vault.OpenMemory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func openAndCheck(path string) (*sql.DB, error) {
	// Pragmas go through the DSN so every pooled connection gets them;
	// foreign_keys in particular is per-connection state.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every pool connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		db.Close()
		return nil, &corruptionError{cause: err}
	}
	if result != "ok" {
		db.Close()
		return nil, &corruptionError{detail: result}
	}
	return db, nil
}

// corruptionError marks an open failure that warrants rebuilding the file.
type corruptionError struct {
	cause  error
	detail string
}

func (e *corruptionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("database corrupt: %v", e.cause)
	}
	return fmt.Sprintf("database corrupt: integrity_check returned %q", e.detail)
}

func (e *corruptionError) Unwrap() error { return e.cause }

func errRequiresRebuild(err error) bool {
	var ce *corruptionError
	return errors.As(err, &ce)
}

func (s *Store) createSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: create schema: %w", ErrDatabase, err)
		}
	}
	if err := migrateSchema(s.db); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	return nil
}
