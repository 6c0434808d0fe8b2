// Package store persists projects, builds, named containers, port
// allocations and settings in a sqlite database. It is the sole authority
// for deployment state; every other component reads through it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/S-Choi-1997/easyCICD-sub000/internal/log"
)

// ErrNotFound is returned when a record doesn't exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a uniqueness constraint is violated
// (duplicate project name, port already allocated).
var ErrConflict = errors.New("record conflict")

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	// Pragmas go in the DSN so every pooled connection gets them. WAL mode
	// lets the router read while the deployer writes.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			name              TEXT NOT NULL UNIQUE,
			repo_url          TEXT NOT NULL,
			branch            TEXT NOT NULL,
			path_filter       TEXT NOT NULL DEFAULT '',
			build_recipe      TEXT NOT NULL,
			runtime_recipe    TEXT NOT NULL,
			active_slot       TEXT NOT NULL DEFAULT 'blue',
			deployment_status TEXT NOT NULL DEFAULT 'not_deployed',
			blue_container    TEXT,
			green_container   TEXT,
			blue_port         INTEGER NOT NULL,
			green_port        INTEGER NOT NULL,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS builds (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id      INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			build_number    INTEGER NOT NULL,
			commit_hash     TEXT NOT NULL,
			commit_message  TEXT NOT NULL DEFAULT '',
			author          TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'queued',
			log_path        TEXT NOT NULL,
			deploy_log_path TEXT NOT NULL,
			artifact_dir    TEXT,
			deployed_slot   TEXT,
			created_at      TEXT NOT NULL,
			started_at      TEXT,
			finished_at     TEXT,
			duration_ms     INTEGER,
			UNIQUE(project_id, build_number)
		);
		CREATE INDEX IF NOT EXISTS idx_builds_project ON builds(project_id);
		CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);

		CREATE TABLE IF NOT EXISTS port_allocations (
			port  INTEGER PRIMARY KEY,
			kind  TEXT NOT NULL,
			owner TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS named_containers (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			name           TEXT NOT NULL UNIQUE,
			image          TEXT NOT NULL,
			command        TEXT NOT NULL DEFAULT '',
			container_port INTEGER NOT NULL DEFAULT 0,
			host_port      INTEGER NOT NULL DEFAULT 0,
			http           INTEGER NOT NULL DEFAULT 0,
			data_path      TEXT NOT NULL DEFAULT '',
			env            TEXT NOT NULL DEFAULT '{}',
			handle         TEXT,
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// write runs fn, retrying once with backoff when sqlite reports the
// database busy. A second failure surfaces to the caller.
func (s *Store) write(fn func() error) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}

	log.Warn("store write contended, retrying", "error", err)
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 50 * time.Millisecond
	time.Sleep(wait.NextBackOff())
	return fn()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
