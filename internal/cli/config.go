package cli

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/config"
)

var flagConfigInitForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&flagConfigInitForce, "force", "f", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialise harness configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		masked := *cfg
		if masked.Client.Password != "" {
			masked.Client.Password = "********"
		}
		if masked.Database.Password != "" {
			masked.Database.Password = "********"
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), masked)
		}
		enc := toml.NewEncoder(cmd.OutOrStdout())
		enc.Indent = "  "
		return enc.Encode(masked)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .timerharness/config.toml in the project",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, config.DirName, "config.toml")
		if err := config.WriteDefault(path, flagConfigInitForce); err != nil {
			return err
		}
		if flagJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]string{"config": path})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
