package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigDurations(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Server.StartupTimeout(); got != 5*time.Minute {
		t.Errorf("Server.StartupTimeout() = %s, want 5m", got)
	}
	if got := cfg.Client.RequestTimeout(); got != time.Minute {
		t.Errorf("Client.RequestTimeout() = %s, want 1m", got)
	}
	if got := cfg.Scenario.FirstWait(); got != time.Second {
		t.Errorf("Scenario.FirstWait() = %s, want 1s", got)
	}
	if got := cfg.Scenario.SecondWait(); got != 5*time.Second {
		t.Errorf("Scenario.SecondWait() = %s, want 5s", got)
	}
}

func TestValidateRequiresImageAndScript(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("Validate() = %v, want ErrMissingValue", err)
	}
	for _, key := range []string{"server.image_name", "server.start_script"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}

	cfg.Server.ImageName = "quay.io/kiegroup/kie-server-showcase:latest"
	cfg.Server.StartScript = "start_kie-wb.sh"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() after filling required values = %v", err)
	}
}

func TestValidateRejectsUnknownSettleMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ImageName = "img"
	cfg.Server.StartScript = "start.sh"
	cfg.Scenario.SettleMode = "eventual"

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "settle_mode") {
		t.Fatalf("Validate() = %v, want settle_mode error", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	project := t.TempDir()
	projectCfg := filepath.Join(project, DirName, "config.toml")
	if err := os.MkdirAll(filepath.Dir(projectCfg), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
[server]
image_name = "from-project"
start_script = "start.sh"
nodes = ["node1", "node2"]

[scenario]
first_wait_ms = 250
`
	if err := os.WriteFile(projectCfg, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	explicit := filepath.Join(t.TempDir(), "override.toml")
	if err := os.WriteFile(explicit, []byte("[scenario]\nsecond_wait_ms = 750\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TIMERHARNESS_SERVER_IMAGE_NAME", "from-env")

	cfg, err := Load(LoadOptions{ProjectDir: project, ConfigPath: explicit, SkipUser: true})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ImageName != "from-env" {
		t.Errorf("ImageName = %q, want env override", cfg.Server.ImageName)
	}
	if cfg.Server.StartScript != "start.sh" {
		t.Errorf("StartScript = %q, want project value", cfg.Server.StartScript)
	}
	if len(cfg.Server.Nodes) != 2 || cfg.Server.Nodes[1] != "node2" {
		t.Errorf("Nodes = %v, want [node1 node2]", cfg.Server.Nodes)
	}
	if cfg.Scenario.FirstWaitMs != 250 {
		t.Errorf("FirstWaitMs = %d, want 250", cfg.Scenario.FirstWaitMs)
	}
	if cfg.Scenario.SecondWaitMs != 750 {
		t.Errorf("SecondWaitMs = %d, want 750", cfg.Scenario.SecondWaitMs)
	}
	if cfg.Database.Image != "postgres:latest" {
		t.Errorf("Database.Image = %q, want default", cfg.Database.Image)
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("ORG_KIE_SAMPLES_IMAGE", "legacy-image")
	t.Setenv("ORG_KIE_SAMPLES_SCRIPT", "legacy.sh")
	t.Setenv("ORG_KIE_SAMPLES_EJBTIMER_NOCLUSTER", "true")

	cfg, err := Load(LoadOptions{ProjectDir: t.TempDir(), SkipUser: true})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ImageName != "legacy-image" {
		t.Errorf("ImageName = %q, want legacy-image", cfg.Server.ImageName)
	}
	if cfg.Server.StartScript != "legacy.sh" {
		t.Errorf("StartScript = %q, want legacy.sh", cfg.Server.StartScript)
	}
	if cfg.Server.Cluster {
		t.Error("Cluster should be false when nocluster is set")
	}
}

func TestWriteDefaultDoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[server]") {
		t.Errorf("default config missing [server] section:\n%s", data)
	}

	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() second call error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "custom" {
		t.Error("existing config was overwritten without force")
	}

	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("WriteDefault(force) error = %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) == "custom" {
		t.Error("force did not overwrite config")
	}
}

func TestWrittenDefaultLoadsBack(t *testing.T) {
	project := t.TempDir()
	path := filepath.Join(project, DirName, "config.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{ProjectDir: project, SkipUser: true})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.Scenario.SecondWaitMs != def.Scenario.SecondWaitMs || cfg.Artifact.Placeholder != def.Artifact.Placeholder {
		t.Errorf("round-trip mismatch: %+v", cfg.Scenario)
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.InitDir = "/abs/postgresql"
	cfg.ResolvePaths("/work/project")

	if cfg.Server.ContextDir != filepath.Join("/work/project", "resources/etc") {
		t.Errorf("ContextDir = %q", cfg.Server.ContextDir)
	}
	if cfg.Artifact.Template != filepath.Join("/work/project", "resources/etc/jbpm-custom-template.cli") {
		t.Errorf("Template = %q", cfg.Artifact.Template)
	}
	if cfg.Database.InitDir != "/abs/postgresql" {
		t.Errorf("absolute InitDir rewritten to %q", cfg.Database.InitDir)
	}
	if cfg.History.Path != filepath.Join("/work/project", DirName, "history.db") {
		t.Errorf("History.Path = %q", cfg.History.Path)
	}
}
