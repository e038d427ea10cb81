// Package verify reads engine state straight from the database, bypassing
// the REST API, so scenarios can assert on what was actually persisted.
//
// Every query acquires its own connection, prepares its statement and
// releases connection, statement and rows before returning. Nothing is
// cached and nothing is retried.
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	// CountTimersQuery counts persisted EJB timers.
	CountTimersQuery = "select count(*) from jboss_ejb_timer"
	// PartitionNamesQuery lists the partitions timers were written to.
	PartitionNamesQuery = "select distinct partition_name from jboss_ejb_timer"
)

// ErrNoRows is returned when a single-row query produced nothing.
var ErrNoRows = errors.New("query returned no rows")

// Verifier runs read-only queries against the engine database.
type Verifier struct {
	db *sql.DB
}

// Open connects to a PostgreSQL DSN and checks that it answers.
func Open(ctx context.Context, dsn string) (*Verifier, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Verifier{db: db}, nil
}

// New wraps an already open database handle.
func New(db *sql.DB) *Verifier {
	return &Verifier{db: db}
}

// Close releases the underlying pool.
func (v *Verifier) Close() error {
	return v.db.Close()
}

// FirstRow runs query and scans the first result row into dest.
func (v *Verifier) FirstRow(ctx context.Context, query string, dest ...any) error {
	conn, err := v.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	stmt, err := conn.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing %q: %w", query, err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("executing %q: %w", query, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading %q: %w", query, err)
		}
		return fmt.Errorf("%w: %q", ErrNoRows, query)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scanning %q: %w", query, err)
	}
	return nil
}

// CountTimers returns the number of rows in the timer table.
func (v *Verifier) CountTimers(ctx context.Context) (int, error) {
	var n int
	if err := v.FirstRow(ctx, CountTimersQuery, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// PartitionNames returns the distinct partitions present in the timer table,
// in the order the database returns them.
func (v *Verifier) PartitionNames(ctx context.Context) ([]string, error) {
	conn, err := v.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, PartitionNamesQuery)
	if err != nil {
		return nil, fmt.Errorf("executing %q: %w", PartitionNamesQuery, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning partition name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// WaitForCount polls the timer count until it equals want or timeout
// elapses. It returns the last observed count; a mismatch at the deadline is
// not an error, the caller decides what it means.
func (v *Verifier) WaitForCount(ctx context.Context, want int, interval, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		n, err := v.CountTimers(ctx)
		switch {
		case err == nil:
			last = n
			if n == want {
				return n, nil
			}
		case ctx.Err() != nil:
			// Deadline hit mid-query; report what we saw before it.
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			if last < 0 {
				return last, ctx.Err()
			}
			return last, nil
		case <-ticker.C:
		}
	}
}
