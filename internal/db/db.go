// Package db keeps a local history of harness runs in SQLite.
// Uses modernc.org/sqlite (pure Go, no cgo) with WAL mode.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenOptions configures database opening behavior.
type OpenOptions struct {
	// CreateIfNotExists creates the parent directory if it doesn't exist.
	CreateIfNotExists bool
	// InitSchema applies pending migrations.
	InitSchema bool
	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultOpenOptions returns sensible defaults for opening a database.
func DefaultOpenOptions() OpenOptions {
	return OpenOptions{
		CreateIfNotExists: true,
		InitSchema:        true,
	}
}

// Open opens a database connection with WAL mode enabled and the schema
// migrated.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOpenOptions())
}

// OpenWithOptions opens a database connection with the given options.
func OpenWithOptions(path string, opts OpenOptions) (*DB, error) {
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	mode := ""
	if opts.ReadOnly {
		mode = "&mode=ro"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)%s", path, mode)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if opts.InitSchema {
		if err := db.ApplyMigrations(context.Background()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}
	return db, nil
}

// OpenProjectDB opens the history database below a project directory.
func OpenProjectDB(projectDir, rel string) (*DB, error) {
	if !filepath.IsAbs(rel) {
		rel = filepath.Join(projectDir, rel)
	}
	return Open(rel)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// GetSchemaVersion returns the current schema version.
func (db *DB) GetSchemaVersion() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := ensureMigrationsTable(db.conn); err != nil {
		return 0, err
	}
	return currentVersion(db.conn)
}

// ValidateSchema ensures the database is at the expected schema version.
func (db *DB) ValidateSchema() error {
	version, err := db.GetSchemaVersion()
	if err != nil {
		return err
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema version mismatch: have %d want %d", version, SchemaVersion)
	}
	return nil
}

// Transaction executes fn within a transaction, rolling back on error or
// panic.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Stats summarises the history database.
type Stats struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	RunCount      int    `json:"run_count"`
	FailedRuns    int    `json:"failed_runs"`
	ScenarioCount int    `json:"scenario_count"`
}

// GetStats returns database statistics.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{Path: db.path}

	version, err := db.GetSchemaVersion()
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&stats.RunCount); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM runs WHERE status IN (?, ?)`, RunFailed, RunError).Scan(&stats.FailedRuns); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM scenario_results`).Scan(&stats.ScenarioCount); err != nil {
		return nil, err
	}
	return stats, nil
}
