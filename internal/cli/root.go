// Package cli implements the timerharness command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/config"
)

var (
	flagConfig    string
	flagProject   string
	flagLogLevel  string
	flagLogFormat string
	flagJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "timerharness",
	Short: "Containerized EJB timer integration harness for KIE server",
	Long: `timerharness boots a KIE server and PostgreSQL in containers, drives
process scenarios over REST and checks how many EJB timers are persisted
in the database after each step.

Configuration is read from ~/.timerharness/config.toml, then
.timerharness/config.toml in the project, then --config, then
TIMERHARNESS_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file merged over project config")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory (defaults to current directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "machine-readable JSON output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// projectDir returns the absolute project directory.
func projectDir() (string, error) {
	dir := flagProject
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving project directory: %w", err)
	}
	return abs, nil
}

// loadConfig loads the merged configuration with paths resolved against the
// project directory.
func loadConfig() (*config.Config, string, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(config.LoadOptions{ProjectDir: dir, ConfigPath: flagConfig})
	if err != nil {
		return nil, "", err
	}
	cfg.ResolvePaths(dir)
	return cfg, dir, nil
}

// newLogger builds the process logger from the log flags.
func newLogger(w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", flagLogLevel)
	}
	opts := log.Options{
		Level:           level,
		ReportTimestamp: true,
	}
	switch flagLogFormat {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", flagLogFormat)
	}
	return log.NewWithOptions(w, opts), nil
}
