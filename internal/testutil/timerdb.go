package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// timerTableDDL is a reduced jboss_ejb_timer table: only the columns the
// verifier reads plus an id.
const timerTableDDL = `
CREATE TABLE jboss_ejb_timer (
	id             TEXT PRIMARY KEY,
	timed_object_id TEXT NOT NULL DEFAULT 'jbpm',
	partition_name TEXT NOT NULL
)`

// TimerDB is a throwaway SQLite database carrying a timer table shaped like
// the one the application server persists EJB timers into.
type TimerDB struct {
	DB *sql.DB
	t  testing.TB
	n  int
}

// NewTimerDB opens a file-backed SQLite database in t.TempDir and creates the
// timer table. The pool is capped at one connection. The database is closed
// at test cleanup.
func NewTimerDB(t testing.TB) *TimerDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timers.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps concurrent test writers from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(timerTableDDL); err != nil {
		t.Fatalf("create timer table: %v", err)
	}
	return &TimerDB{DB: db, t: t}
}

// Insert adds one timer row in the given partition.
func (d *TimerDB) Insert(partition string) {
	d.t.Helper()
	d.n++
	if _, err := d.DB.Exec(
		`INSERT INTO jboss_ejb_timer (id, partition_name) VALUES (?, ?)`,
		fmt.Sprintf("timer-%d", d.n), partition,
	); err != nil {
		d.t.Fatalf("insert timer: %v", err)
	}
}

// Clear removes every timer row.
func (d *TimerDB) Clear() {
	d.t.Helper()
	if _, err := d.DB.Exec(`DELETE FROM jboss_ejb_timer`); err != nil {
		d.t.Fatalf("clear timers: %v", err)
	}
}
