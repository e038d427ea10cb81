// Package config loads harness configuration.
//
// Precedence: defaults < user (~/.timerharness/config.toml) < project
// (.timerharness/config.toml) < explicit --config file < env (TIMERHARNESS_*).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIMERHARNESS_SERVER_IMAGE_NAME.
const EnvPrefix = "TIMERHARNESS"

// DirName is the per-project and per-user configuration directory.
const DirName = ".timerharness"

// ErrMissingValue is returned by Validate when a required value is absent.
var ErrMissingValue = errors.New("missing required configuration value")

// Config is the full harness configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" mapstructure:"server" json:"server"`
	Database   DatabaseConfig   `toml:"database" mapstructure:"database" json:"database"`
	Artifact   ArtifactConfig   `toml:"artifact" mapstructure:"artifact" json:"artifact"`
	Deployment DeploymentConfig `toml:"deployment" mapstructure:"deployment" json:"deployment"`
	Client     ClientConfig     `toml:"client" mapstructure:"client" json:"client"`
	Scenario   ScenarioConfig   `toml:"scenario" mapstructure:"scenario" json:"scenario"`
	Cleanup    CleanupConfig    `toml:"cleanup" mapstructure:"cleanup" json:"cleanup"`
	History    HistoryConfig    `toml:"history" mapstructure:"history" json:"history"`
	Notify     NotifyConfig     `toml:"notify" mapstructure:"notify" json:"notify"`
}

// ServerConfig describes the service nodes running the process engine.
type ServerConfig struct {
	ImageName          string            `toml:"image_name" mapstructure:"image_name" json:"image_name"`
	StartScript        string            `toml:"start_script" mapstructure:"start_script" json:"start_script"`
	Variant            string            `toml:"variant" mapstructure:"variant" json:"variant"`
	Nodes              []string          `toml:"nodes" mapstructure:"nodes" json:"nodes"`
	Cluster            bool              `toml:"cluster" mapstructure:"cluster" json:"cluster"`
	Port               int               `toml:"port" mapstructure:"port" json:"port"`
	Alias              string            `toml:"alias" mapstructure:"alias" json:"alias"`
	ContextDir         string            `toml:"context_dir" mapstructure:"context_dir" json:"context_dir"`
	Dockerfile         string            `toml:"dockerfile" mapstructure:"dockerfile" json:"dockerfile"`
	ContextFiles       []string          `toml:"context_files" mapstructure:"context_files" json:"context_files"`
	ReadyPattern       string            `toml:"ready_pattern" mapstructure:"ready_pattern" json:"ready_pattern"`
	StartupTimeoutSecs int               `toml:"startup_timeout_secs" mapstructure:"startup_timeout_secs" json:"startup_timeout_secs"`
	JavaOpts           string            `toml:"java_opts" mapstructure:"java_opts" json:"java_opts"`
	TimerLocalCache    bool              `toml:"timer_local_cache" mapstructure:"timer_local_cache" json:"timer_local_cache"`
	TimerTx            bool              `toml:"timer_tx" mapstructure:"timer_tx" json:"timer_tx"`
	Env                map[string]string `toml:"env" mapstructure:"env" json:"env,omitempty"`
}

// DatabaseConfig describes the PostgreSQL container.
type DatabaseConfig struct {
	Image              string `toml:"image" mapstructure:"image" json:"image"`
	Name               string `toml:"name" mapstructure:"name" json:"name"`
	User               string `toml:"user" mapstructure:"user" json:"user"`
	Password           string `toml:"password" mapstructure:"password" json:"-"`
	Alias              string `toml:"alias" mapstructure:"alias" json:"alias"`
	InitDir            string `toml:"init_dir" mapstructure:"init_dir" json:"init_dir"`
	Args               string `toml:"args" mapstructure:"args" json:"args"`
	StartupTimeoutSecs int    `toml:"startup_timeout_secs" mapstructure:"startup_timeout_secs" json:"startup_timeout_secs"`
}

// ArtifactConfig locates the per-node configuration template and its output.
type ArtifactConfig struct {
	Template      string `toml:"template" mapstructure:"template" json:"template"`
	Placeholder   string `toml:"placeholder" mapstructure:"placeholder" json:"placeholder"`
	OutputDir     string `toml:"output_dir" mapstructure:"output_dir" json:"output_dir"`
	Prefix        string `toml:"prefix" mapstructure:"prefix" json:"prefix"`
	ContainerPath string `toml:"container_path" mapstructure:"container_path" json:"container_path"`
}

// DeploymentConfig identifies the deployable unit provisioned per test case.
type DeploymentConfig struct {
	GroupID     string `toml:"group_id" mapstructure:"group_id" json:"group_id"`
	ArtifactID  string `toml:"artifact_id" mapstructure:"artifact_id" json:"artifact_id"`
	Version     string `toml:"version" mapstructure:"version" json:"version"`
	AliasSuffix string `toml:"alias_suffix" mapstructure:"alias_suffix" json:"alias_suffix"`
}

// ClientConfig configures the REST client session.
type ClientConfig struct {
	User               string `toml:"user" mapstructure:"user" json:"user"`
	Password           string `toml:"password" mapstructure:"password" json:"-"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs" mapstructure:"request_timeout_secs" json:"request_timeout_secs"`
	Format             string `toml:"format" mapstructure:"format" json:"format"`
}

// ScenarioConfig controls the quiescence rhythm between scenario steps.
type ScenarioConfig struct {
	SettleMode     string `toml:"settle_mode" mapstructure:"settle_mode" json:"settle_mode"`
	FirstWaitMs    int    `toml:"first_wait_ms" mapstructure:"first_wait_ms" json:"first_wait_ms"`
	SecondWaitMs   int    `toml:"second_wait_ms" mapstructure:"second_wait_ms" json:"second_wait_ms"`
	PollIntervalMs int    `toml:"poll_interval_ms" mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	Signal         string `toml:"signal" mapstructure:"signal" json:"signal"`
}

// CleanupConfig controls suite-teardown image removal.
type CleanupConfig struct {
	ImageLabel string `toml:"image_label" mapstructure:"image_label" json:"image_label"`
	Enabled    bool   `toml:"enabled" mapstructure:"enabled" json:"enabled"`
}

// HistoryConfig controls the local run ledger.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path    string `toml:"path" mapstructure:"path" json:"path"`
}

// NotifyConfig controls the run-outcome webhook.
type NotifyConfig struct {
	WebhookURL   string `toml:"webhook_url" mapstructure:"webhook_url" json:"webhook_url"`
	OnlyFailures bool   `toml:"only_failures" mapstructure:"only_failures" json:"only_failures"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Variant:            "wildfly",
			Nodes:              []string{"node1"},
			Cluster:            true,
			Port:               8080,
			Alias:              "kie-server",
			ContextDir:         "resources/etc",
			Dockerfile:         "Dockerfile",
			ReadyPattern:       ".*WildFly.*started in.*",
			StartupTimeoutSecs: 300,
			JavaOpts:           "-Xms256m -Xmx2048m -XX:MetaspaceSize=96M -XX:MaxMetaspaceSize=512m -Djava.net.preferIPv4Stack=true -Dfile.encoding=UTF-8",
			TimerLocalCache:    false,
			TimerTx:            true,
		},
		Database: DatabaseConfig{
			Image:              "postgres:latest",
			Name:               "rhpamdatabase",
			User:               "rhpamuser",
			Password:           "rhpampassword",
			Alias:              "postgresql11",
			InitDir:            "resources/etc/postgresql",
			Args:               "-c max_prepared_transactions=10",
			StartupTimeoutSecs: 60,
		},
		Artifact: ArtifactConfig{
			Template:      "resources/etc/jbpm-custom-template.cli",
			Placeholder:   "%partition_name%",
			OutputDir:     "resources/etc",
			Prefix:        "jbpm-custom-",
			ContainerPath: "etc/jbpm-custom.cli",
		},
		Deployment: DeploymentConfig{
			GroupID:     "org.kie.server.testing",
			ArtifactID:  "tx-ejb-sample",
			Version:     "1.0.0",
			AliasSuffix: "-alias",
		},
		Client: ClientConfig{
			User:               "kieserver",
			Password:           "kieserver1!",
			RequestTimeoutSecs: 60,
			Format:             "json",
		},
		Scenario: ScenarioConfig{
			SettleMode:     "fixed",
			FirstWaitMs:    1000,
			SecondWaitMs:   5000,
			PollIntervalMs: 250,
			Signal:         "Signal",
		},
		Cleanup: CleanupConfig{
			ImageLabel: "autodelete=true",
			Enabled:    true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(DirName, "history.db"),
		},
		Notify: NotifyConfig{
			OnlyFailures: true,
		},
	}
}

// StartupTimeout returns the per-node readiness timeout.
func (c ServerConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSecs) * time.Second
}

// StartupTimeout returns the database readiness timeout.
func (c DatabaseConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSecs) * time.Second
}

// RequestTimeout returns the REST client request timeout.
func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// FirstWait is the settle interval after starting a process instance.
func (c ScenarioConfig) FirstWait() time.Duration {
	return time.Duration(c.FirstWaitMs) * time.Millisecond
}

// SecondWait is the settle interval after signalling the instance.
func (c ScenarioConfig) SecondWait() time.Duration {
	return time.Duration(c.SecondWaitMs) * time.Millisecond
}

// PollInterval is the verifier polling period in poll settle mode.
func (c ScenarioConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ResolvePaths makes every relative filesystem path in c absolute against
// base.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{
		&c.Server.ContextDir,
		&c.Database.InitDir,
		&c.Artifact.Template,
		&c.Artifact.OutputDir,
		&c.History.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks values that must be supplied externally.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.ImageName) == "" {
		errs = append(errs, fmt.Errorf("%w: server.image_name", ErrMissingValue))
	}
	if strings.TrimSpace(c.Server.StartScript) == "" {
		errs = append(errs, fmt.Errorf("%w: server.start_script", ErrMissingValue))
	}
	if len(c.Server.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("%w: server.nodes", ErrMissingValue))
	}
	if c.Server.StartupTimeoutSecs <= 0 {
		errs = append(errs, fmt.Errorf("server.startup_timeout_secs must be > 0"))
	}
	switch c.Scenario.SettleMode {
	case "fixed", "poll":
	default:
		errs = append(errs, fmt.Errorf("scenario.settle_mode must be fixed or poll, got %q", c.Scenario.SettleMode))
	}
	if c.Client.Format != "json" {
		errs = append(errs, fmt.Errorf("client.format %q is not supported", c.Client.Format))
	}
	return errors.Join(errs...)
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// ProjectDir holds .timerharness/config.toml. Empty means the working directory.
	ProjectDir string
	// ConfigPath is an explicit config file merged last before env.
	ConfigPath string
	// SkipUser ignores ~/.timerharness/config.toml.
	SkipUser bool
}

// legacyEnv maps config keys to the environment names used by older
// property-driven runs.
var legacyEnv = map[string]string{
	"server.image_name":   "ORG_KIE_SAMPLES_IMAGE",
	"server.start_script": "ORG_KIE_SAMPLES_SCRIPT",
	"server.variant":      "ORG_KIE_SAMPLES_SERVER",
	"database.image":      "ORG_KIE_SAMPLES_IMAGE_POSTGRESQL",
}

// Load resolves the configuration from defaults, files and environment.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := v.ReadConfig(&buf); err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	var paths []string
	if !opts.SkipUser {
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, DirName, "config.toml"))
		}
	}
	projectDir := opts.ProjectDir
	if projectDir == "" {
		if wd, err := os.Getwd(); err == nil {
			projectDir = wd
		}
	}
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, DirName, "config.toml"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging %s: %w", p, err)
		}
	}
	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging %s: %w", opts.ConfigPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if noCluster, ok := os.LookupEnv("ORG_KIE_SAMPLES_EJBTIMER_NOCLUSTER"); ok {
		cfg.Server.Cluster = !parseBool(noCluster)
	}
	return &cfg, nil
}

// WriteDefault writes the default config as commented TOML.
// An existing file is left untouched unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := `# timerharness configuration
#
# Precedence: defaults < user (~/.timerharness/config.toml) < project (.timerharness/config.toml) < --config < env (TIMERHARNESS_*)
# server.image_name and server.start_script have no default and must be set.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	enc := toml.NewEncoder(f)
	enc.Indent = "  "
	return enc.Encode(DefaultConfig())
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || strings.EqualFold(s, "true") || strings.EqualFold(s, "yes")
}
