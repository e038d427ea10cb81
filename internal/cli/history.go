package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/db"
)

var flagHistoryLimit int

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "max runs to list")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or the scenarios of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := db.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer database.Close()

	if len(args) == 1 {
		return showRun(cmd, database, args[0])
	}

	runs, err := database.ListRuns(flagHistoryLimit)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if flagJSON {
		if runs == nil {
			runs = []*db.Run{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	p := newPrinter(w)
	t := newTable(p.styled,
		column{Header: "RUN"},
		column{Header: "STARTED"},
		column{Header: "STATUS"},
		column{Header: "NODES"},
		column{Header: "IMAGE", MaxWidth: 48},
	)
	for _, r := range runs {
		t.addRow(r.ID, r.StartedAt.Local().Format(time.DateTime), string(r.Status), strings.Join(r.Nodes, ","), r.ServerImage)
	}
	fmt.Fprintln(w, t.render())
	return nil
}

func showRun(cmd *cobra.Command, database *db.DB, id string) error {
	run, err := database.GetRun(id)
	if err != nil {
		return err
	}
	results, err := database.ListScenarioResults(id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if flagJSON {
		if results == nil {
			results = []*db.ScenarioResult{}
		}
		return writeJSON(w, map[string]any{"run": run, "scenarios": results})
	}

	p := newPrinter(w)
	fmt.Fprintf(w, "%s %s\n", p.title("Run"), run.ID)
	fmt.Fprintf(w, "  status:  %s\n", p.status(string(run.Status)))
	fmt.Fprintf(w, "  image:   %s\n", run.ServerImage)
	fmt.Fprintf(w, "  nodes:   %s (cluster=%t)\n", strings.Join(run.Nodes, ","), run.Cluster)
	if run.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", run.Error)
	}
	fmt.Fprintln(w)
	for _, r := range results {
		line := fmt.Sprintf("%s %s (%s, %s)", p.badge(r.Passed), r.Scenario, r.ProcessID, r.Duration)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
