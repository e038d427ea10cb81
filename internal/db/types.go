package db

import "time"

// RunStatus is the outcome of a harness run.
type RunStatus string

const (
	// RunRunning is a run that has not finished (or crashed before recording).
	RunRunning RunStatus = "running"
	// RunPassed means every scenario passed.
	RunPassed RunStatus = "passed"
	// RunFailed means at least one scenario assertion failed.
	RunFailed RunStatus = "failed"
	// RunError means the topology never became ready or setup failed.
	RunError RunStatus = "error"
)

// Valid returns true if the status is known.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunPassed, RunFailed, RunError:
		return true
	default:
		return false
	}
}

// Run is one harness invocation.
type Run struct {
	// ID is the unique run identifier (UUID).
	ID          string     `json:"id"`
	ProjectPath string     `json:"project_path"`
	ServerImage string     `json:"server_image"`
	Nodes       []string   `json:"nodes"`
	Cluster     bool       `json:"cluster"`
	SettleMode  string     `json:"settle_mode,omitempty"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ScenarioResult is the recorded outcome of one scenario in a run.
type ScenarioResult struct {
	ID         int64         `json:"id"`
	RunID      string        `json:"run_id"`
	Scenario   string        `json:"scenario"`
	ProcessID  string        `json:"process_id"`
	InstanceID int64         `json:"instance_id,omitempty"`
	Passed     bool          `json:"passed"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}
