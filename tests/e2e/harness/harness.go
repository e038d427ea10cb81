// Package harness provides the E2E test environment infrastructure.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/runner"
	"github.com/kiesamples/timerharness/internal/scenario"
)

// EnvEnabled must be "1" for the container suites to run.
const EnvEnabled = "TIMERHARNESS_E2E"

// DefaultTimeout bounds a single scenario, including both settle waits.
const DefaultTimeout = 2 * time.Minute

// Enabled reports whether the container suites were requested.
func Enabled() bool {
	return os.Getenv(EnvEnabled) == "1"
}

// RepoRoot walks up from the working directory to the directory holding
// go.mod.
func RepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above working directory")
		}
		dir = parent
	}
}

// LoadConfig resolves the configuration for a project rooted at dir,
// ignoring the user config, and applies the E2E overrides.
func LoadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ProjectDir: dir, SkipUser: true})
	if err != nil {
		return nil, err
	}
	cfg.ResolvePaths(dir)
	applyTestOverrides(cfg)
	return cfg, nil
}

// applyTestOverrides keeps the configured settle mode, lengthens the
// after-signal interval for slow container hosts and keeps no history.
func applyTestOverrides(cfg *config.Config) {
	if cfg.Scenario.SecondWaitMs < 10000 {
		cfg.Scenario.SecondWaitMs = 10000
	}
	cfg.History.Enabled = false
}

// Suite is a topology shared by every test in a package, started once from
// TestMain.
type Suite struct {
	Config  *config.Config
	Session *runner.Session
	Logger  *log.Logger
}

// StartSuite starts the topology described by cfg. The caller must Close it.
func StartSuite(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Suite, error) {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "suite"})
	}
	r, err := runner.New(cfg, runner.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	s, err := r.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting topology: %w", err)
	}
	return &Suite{Config: cfg, Session: s, Logger: logger}, nil
}

// Close tears the shared topology down.
func (s *Suite) Close(ctx context.Context) error {
	return s.Session.Close(ctx)
}

// Env returns a per-test environment over the shared session.
func (s *Suite) Env(t *testing.T) *Environment {
	t.Helper()
	env := newEnvironment(t, s.Config)
	env.Counter = s.Session.Verifier
	env.Driver = s.Session.Driver
	return env
}

// Environment is the per-test view of a harness run.
type Environment struct {
	T *testing.T

	// ProjectDir is the project root the config was resolved against.
	ProjectDir string

	// Config holds the resolved configuration.
	Config *config.Config

	// Logger is the step logger
	Logger *StepLogger

	// Counter reads the persisted timer table.
	Counter scenario.TimerCounter

	// Driver runs scenarios. Nil until attached to a session.
	Driver *scenario.Driver

	stepCount atomic.Int32
	startTime time.Time
}

// NewEnvironment creates an environment over a temp project with the
// default configuration and E2E overrides. It starts nothing; tests attach
// a Counter or Driver as needed.
func NewEnvironment(t *testing.T) *Environment {
	t.Helper()

	projectDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(projectDir, config.DirName), 0o755); err != nil {
		t.Fatalf("E2E: creating project dir: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.ResolvePaths(projectDir)
	applyTestOverrides(&cfg)

	env := newEnvironment(t, &cfg)
	env.ProjectDir = projectDir
	return env
}

func newEnvironment(t *testing.T, cfg *config.Config) *Environment {
	env := &Environment{
		T:         t,
		Config:    cfg,
		Logger:    NewStepLogger(t),
		startTime: time.Now(),
	}
	env.Logger.Info("E2E environment created for %s", t.Name())
	return env
}

// Step logs a test step with automatic numbering.
func (env *Environment) Step(format string, args ...any) {
	env.T.Helper()
	step := env.stepCount.Add(1)
	env.Logger.Step(int(step), format, args...)
}

// Result logs a step result.
func (env *Environment) Result(format string, args ...any) {
	env.T.Helper()
	env.Logger.Result(format, args...)
}

// Elapsed returns time since environment creation.
func (env *Environment) Elapsed() time.Duration {
	return time.Since(env.startTime)
}

// Context returns a context bounded by DefaultTimeout and cancelled at test
// cleanup.
func (env *Environment) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	env.T.Cleanup(cancel)
	return ctx
}

// TimerState logs the current timer count.
func (env *Environment) TimerState() {
	env.T.Helper()
	n, err := env.Counter.CountTimers(context.Background())
	if err != nil {
		env.Logger.Error("counting timers: %v", err)
		return
	}
	env.Logger.TimerState(n)
}

// Provision creates the deployment and registers its disposal, which also
// checks that no timer outlives the container.
func (env *Environment) Provision() {
	env.T.Helper()
	env.requireDriver()

	env.Step("Provisioning %s", env.Driver.Deployment().ContainerID())
	if err := env.Driver.Provision(env.Context()); err != nil {
		env.T.Fatalf("Provision: %v", err)
	}
	env.T.Cleanup(func() {
		env.Step("Disposing %s", env.Driver.Deployment().ContainerID())
		if err := env.Driver.Dispose(context.Background()); err != nil {
			env.T.Errorf("Dispose: %v", err)
		}
	})
}

// RunScenario runs the named expectation and returns the process instance
// id.
func (env *Environment) RunScenario(name string) int64 {
	env.T.Helper()
	env.requireDriver()

	exp, ok := scenario.FindExpectation(name)
	if !ok {
		env.T.Fatalf("unknown scenario %q", name)
	}
	env.Step("Running %s (%s)", exp.Name, exp.ProcessID)
	id, err := env.Driver.Run(env.Context(), exp)
	if err != nil {
		env.T.Fatalf("scenario %s: %v", exp.Name, err)
	}
	env.Result("instance %d passed", id)
	return id
}

func (env *Environment) requireDriver() {
	env.T.Helper()
	if env.Driver == nil {
		env.T.Fatal("E2E: environment has no driver; use Suite.Env")
	}
}
