package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndInitSchema(t *testing.T) {
	db := openTestDB(t)

	if err := db.ValidateSchema(); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}
	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.SchemaVersion != SchemaVersion || stats.RunCount != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Reopening must not re-run the ALTER TABLE.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if v, _ := db.GetSchemaVersion(); v != SchemaVersion {
		t.Errorf("version = %d, want %d", v, SchemaVersion)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		ProjectPath: "/work/ejb-timer",
		ServerImage: "quay.io/kiegroup/kie-server-showcase:latest",
		Nodes:       []string{"node1"},
		Cluster:     true,
		SettleMode:  "fixed",
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == "" || run.Status != RunRunning {
		t.Fatalf("run not initialised: %+v", run)
	}

	for i, passed := range []bool{true, false} {
		r := &ScenarioResult{
			RunID:      run.ID,
			Scenario:   "BoundaryFailSubprocess",
			ProcessID:  "boundary-subprocess",
			InstanceID: int64(i + 1),
			Passed:     passed,
			Duration:   6 * time.Second,
		}
		if !passed {
			r.Error = "want 2 timers, got 1"
		}
		if err := db.RecordScenario(r); err != nil {
			t.Fatalf("RecordScenario() error = %v", err)
		}
		if r.ID == 0 {
			t.Error("scenario result id not set")
		}
	}

	if err := db.FinishRun(run.ID, RunFailed, errors.New("1 of 2 scenarios failed")); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunFailed || got.FinishedAt == nil || got.Error == "" {
		t.Errorf("GetRun() = %+v", got)
	}
	if len(got.Nodes) != 1 || got.Nodes[0] != "node1" || !got.Cluster || got.SettleMode != "fixed" {
		t.Errorf("run fields lost: %+v", got)
	}

	results, err := db.ListScenarioResults(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || !results[0].Passed || results[1].Passed {
		t.Fatalf("results = %+v", results)
	}
	if results[1].Duration != 6*time.Second || results[1].InstanceID != 2 {
		t.Errorf("result fields lost: %+v", results[1])
	}

	stats, _ := db.GetStats()
	if stats.RunCount != 1 || stats.FailedRuns != 1 || stats.ScenarioCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if err := db.FinishRun("missing", RunPassed, nil); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestFinishRunRejectsRunning(t *testing.T) {
	db := openTestDB(t)
	run := &Run{ProjectPath: "/p", ServerImage: "img", Nodes: []string{"node1"}}
	if err := db.CreateRun(run); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(run.ID, RunRunning, nil); err == nil {
		t.Fatal("expected error for non-final status")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	var ids []string
	for i := 0; i < 3; i++ {
		run := &Run{ProjectPath: "/p", ServerImage: "img", Nodes: []string{"node1", "node2"}}
		if err := db.CreateRun(run); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns(2) returned %d runs", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("order = %s,%s", runs[0].ID, runs[1].ID)
	}
	if len(runs[0].Nodes) != 2 {
		t.Errorf("nodes = %v", runs[0].Nodes)
	}

	all, _ := db.ListRuns(0)
	if len(all) != 3 {
		t.Errorf("ListRuns(0) returned %d", len(all))
	}
}

func TestRunStatusValid(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunRunning, true},
		{RunPassed, true},
		{RunFailed, true},
		{RunError, true},
		{RunStatus("skipped"), false},
	}
	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("%q.Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
