package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = errors.New("run not found")

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// CreateRun inserts a run in the running state, generating its ID.
func (db *DB) CreateRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Status = RunRunning
	r.StartedAt = time.Now().UTC()
	r.FinishedAt = nil

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, project_path, server_image, nodes, cluster, settle_mode, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectPath, r.ServerImage, strings.Join(r.Nodes, ","), boolToInt(r.Cluster),
		nullString(r.SettleMode), string(r.Status), r.StartedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (db *DB) FinishRun(id string, status RunStatus, runErr error) error {
	if !status.Valid() || status == RunRunning {
		return fmt.Errorf("invalid final status %q", status)
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(status), nullString(msg), time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordScenario appends a scenario result to a run.
func (db *DB) RecordScenario(r *ScenarioResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`
		INSERT INTO scenario_results (run_id, scenario, process_id, instance_id, passed, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Scenario, r.ProcessID, r.InstanceID, boolToInt(r.Passed), nullString(r.Error),
		r.Duration.Milliseconds(), r.CreatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("recording scenario: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting scenario result id: %w", err)
	}
	r.ID = id
	return nil
}

const runColumns = `id, project_path, server_image, nodes, cluster, settle_mode, status, error, started_at, finished_at`

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListScenarioResults returns the scenario results of a run in insertion
// order.
func (db *DB) ListScenarioResults(runID string) ([]*ScenarioResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rows, err := db.conn.Query(`
		SELECT id, run_id, scenario, process_id, instance_id, passed, error, duration_ms, created_at
		FROM scenario_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing scenario results: %w", err)
	}
	defer rows.Close()

	var out []*ScenarioResult
	for rows.Next() {
		var (
			r          ScenarioResult
			instanceID sql.NullInt64
			passed     int
			errMsg     sql.NullString
			durationMs int64
			createdAt  string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Scenario, &r.ProcessID, &instanceID, &passed, &errMsg, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning scenario result: %w", err)
		}
		r.InstanceID = instanceID.Int64
		r.Passed = passed != 0
		r.Error = errMsg.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r          Run
		nodes      string
		cluster    int
		settleMode sql.NullString
		status     string
		errMsg     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := s.Scan(&r.ID, &r.ProjectPath, &r.ServerImage, &nodes, &cluster, &settleMode, &status, &errMsg, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	if nodes != "" {
		r.Nodes = strings.Split(nodes, ",")
	}
	r.Cluster = cluster != 0
	r.SettleMode = settleMode.String
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	r.StartedAt, _ = time.Parse(timeFormat, startedAt)
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err == nil {
			r.FinishedAt = &t
		}
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
