package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/scenario"
	"github.com/kiesamples/timerharness/internal/testutil"
	"github.com/kiesamples/timerharness/internal/verify"
)

func TestNewEnvironment(t *testing.T) {
	env := NewEnvironment(t)

	env.Step("Verifying environment structure")
	env.AssertFileExists(config.DirName)
	env.AssertFileNotExists("resources")

	if !filepath.IsAbs(env.Config.Artifact.Template) {
		t.Errorf("template path not resolved: %s", env.Config.Artifact.Template)
	}
	if !strings.HasPrefix(env.Config.Server.ContextDir, env.ProjectDir) {
		t.Errorf("context dir %s outside project %s", env.Config.Server.ContextDir, env.ProjectDir)
	}
	env.Logger.Elapsed()
}

func TestTestOverrides(t *testing.T) {
	env := NewEnvironment(t)

	if env.Config.Scenario.SettleMode != scenario.SettleFixed {
		t.Errorf("settle mode = %s, want %s", env.Config.Scenario.SettleMode, scenario.SettleFixed)
	}
	if env.Config.Scenario.SecondWaitMs < 10000 {
		t.Errorf("second wait = %dms, want >= 10000", env.Config.Scenario.SecondWaitMs)
	}
	if env.Config.History.Enabled {
		t.Error("history should be disabled under E2E")
	}
}

func TestAssertTimerCount(t *testing.T) {
	env := NewEnvironment(t)
	timers := testutil.NewTimerDB(t)
	env.Counter = verify.New(timers.DB)

	env.Step("Empty table")
	env.AssertTimerCount(0)

	env.Step("Two timers persisted")
	timers.Insert("ejb_timer_node1_part")
	timers.Insert("ejb_timer_node1_part")
	env.AssertTimerCount(2)
	env.TimerState()

	timers.Clear()
	env.AssertTimerCount(0)
}

func TestLoadConfigFromProject(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, config.DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	body := "[server]\nimage_name = \"quay.io/kiegroup/kie-server-showcase:latest\"\nnodes = [\"node1\", \"node2\"]\n"
	if err := os.WriteFile(filepath.Join(dir, config.DirName, "config.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.ImageName != "quay.io/kiegroup/kie-server-showcase:latest" {
		t.Errorf("image = %q", cfg.Server.ImageName)
	}
	if len(cfg.Server.Nodes) != 2 {
		t.Errorf("nodes = %v", cfg.Server.Nodes)
	}
	if cfg.Artifact.OutputDir != filepath.Join(dir, "resources/etc") {
		t.Errorf("output dir = %s", cfg.Artifact.OutputDir)
	}
	if cfg.Scenario.SettleMode != scenario.SettleFixed {
		t.Errorf("settle mode = %s", cfg.Scenario.SettleMode)
	}
}

func TestRepoRootFindsModule(t *testing.T) {
	root, err := RepoRoot()
	if err != nil {
		t.Fatalf("RepoRoot() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Errorf("no go.mod in %s", root)
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv(EnvEnabled, "")
	if Enabled() {
		t.Error("Enabled() with empty env")
	}
	t.Setenv(EnvEnabled, "1")
	if !Enabled() {
		t.Error("Enabled() with env=1")
	}
}

func TestStepLogger(t *testing.T) {
	buf := NewLogBuffer()
	logger := NewStepLogger(t, buf)

	logger.Step(1, "First step")
	logger.Result("got value %d", 42)
	logger.TimerState(3)
	logger.Info("information")
	logger.Expected("foo", "bar", "bar", true)
	logger.Expected("fail", "a", "b", false)
	logger.Elapsed()

	for _, want := range []string{"[STEP 1] First step", "got value 42", "rows=3", "check failed"} {
		if !buf.Contains(want) {
			t.Errorf("log missing %q:\n%s", want, strings.Join(buf.Entries(), ""))
		}
	}
	if len(buf.Entries()) != 7 {
		t.Errorf("expected 7 entries, got %d", len(buf.Entries()))
	}
}

func TestLogBuffer(t *testing.T) {
	buf := NewLogBuffer()

	_, _ = buf.Write([]byte("test message"))
	_, _ = buf.Write([]byte("another message"))

	if len(buf.Entries()) != 2 {
		t.Errorf("expected 2 entries, got %d", len(buf.Entries()))
	}

	if !buf.Contains("test") {
		t.Error("buffer should contain 'test'")
	}

	if buf.Contains("nonexistent") {
		t.Error("buffer should not contain 'nonexistent'")
	}

	buf.Clear()
	if len(buf.Entries()) != 0 {
		t.Error("buffer should be empty after clear")
	}
}

func TestEnvironment_NoErrorAndError(t *testing.T) {
	env := NewEnvironment(t)

	env.Step("Testing AssertNoError with nil")
	env.AssertNoError(nil, "should pass")

	env.Step("Testing AssertError with actual error")
	env.AssertError(fmt.Errorf("expected error"), "should pass with error")

	env.Step("Testing error logging")
	env.Logger.Error("Test error message: %s", "test")
}

func TestEnvironment_Elapsed(t *testing.T) {
	env := NewEnvironment(t)

	env.Step("Checking elapsed time")
	if env.Elapsed() < 0 {
		t.Error("elapsed time should be non-negative")
	}
}
