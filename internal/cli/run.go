package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/db"
	"github.com/kiesamples/timerharness/internal/runner"
	"github.com/kiesamples/timerharness/internal/scenario"
)

var (
	flagRunScenarios []string
	flagRunSettle    string
	flagRunNoHistory bool
)

func init() {
	runCmd.Flags().StringSliceVarP(&flagRunScenarios, "scenario", "s", nil, "scenario name or process id to run (repeatable, default all)")
	runCmd.Flags().StringVar(&flagRunSettle, "settle", "", "override settle mode: fixed or poll")
	runCmd.Flags().BoolVar(&flagRunNoHistory, "no-history", false, "do not record this run")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the topology and run the timer scenarios",
	Long: `Render the per-node CLI script, start PostgreSQL and the KIE server
nodes, then run each scenario: deploy the kjar, start the process, check
the timer table, send the signal, check again, dispose and check that the
table is empty.

Containers, the network, rendered files and labelled images are removed
when the run ends, whether it passed, failed or was interrupted.

Examples:
  timerharness run
  timerharness run -s boundary-subprocess --settle poll
  TIMERHARNESS_SERVER_IMAGE_NAME=quay.io/kiegroup/kie-server-showcase:latest timerharness run`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	if flagRunSettle != "" {
		cfg.Scenario.SettleMode = flagRunSettle
	}
	exps, err := selectExpectations(flagRunScenarios)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	opts := runner.Options{Logger: logger, ProjectDir: dir}
	if cfg.History.Enabled && !flagRunNoHistory {
		history, err := db.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("run history disabled", "path", cfg.History.Path, "error", err)
		} else {
			defer history.Close()
			opts.History = history
		}
	}

	r, err := runner.New(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, runErr := r.Run(ctx, exps)
	if err := printReport(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	return runErr
}

func selectExpectations(keys []string) ([]scenario.Expectation, error) {
	if len(keys) == 0 {
		return scenario.DefaultExpectations(), nil
	}
	exps := make([]scenario.Expectation, 0, len(keys))
	for _, k := range keys {
		e, ok := scenario.FindExpectation(k)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (see 'timerharness scenarios')", k)
		}
		exps = append(exps, e)
	}
	return exps, nil
}

type scenarioJSON struct {
	Scenario   string `json:"scenario"`
	ProcessID  string `json:"process_id"`
	InstanceID int64  `json:"instance_id,omitempty"`
	Passed     bool   `json:"passed"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type reportJSON struct {
	RunID     string         `json:"run_id,omitempty"`
	Status    string         `json:"status"`
	Scenarios []scenarioJSON `json:"scenarios"`
	Error     string         `json:"error,omitempty"`
}

func printReport(w io.Writer, rep *runner.Report) error {
	if flagJSON {
		out := reportJSON{RunID: rep.RunID, Status: string(rep.Status()), Scenarios: []scenarioJSON{}}
		if rep.Err != nil {
			out.Error = rep.Err.Error()
		}
		for _, r := range rep.Results {
			s := scenarioJSON{
				Scenario:   r.Scenario,
				ProcessID:  r.ProcessID,
				InstanceID: r.InstanceID,
				Passed:     r.Passed(),
				DurationMs: r.Duration.Milliseconds(),
			}
			if r.Err != nil {
				s.Error = r.Err.Error()
			}
			out.Scenarios = append(out.Scenarios, s)
		}
		return writeJSON(w, out)
	}

	p := newPrinter(w)
	t := newTable(p.styled,
		column{Header: "SCENARIO"},
		column{Header: "PROCESS"},
		column{Header: "RESULT"},
		column{Header: "TIME"},
	)
	for _, r := range rep.Results {
		result := "PASS"
		if !r.Passed() {
			result = "FAIL"
		}
		t.addRow(r.Scenario, r.ProcessID, result, r.Duration.Round(time.Millisecond).String())
	}
	if len(rep.Results) > 0 {
		fmt.Fprintln(w, t.render())
		fmt.Fprintln(w)
	}
	for _, r := range rep.Results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", p.badge(false), r.Scenario, r.Err)
		}
	}
	if rep.Err != nil {
		fmt.Fprintf(w, "%s %v\n", p.badge(false), rep.Err)
	}
	summary := fmt.Sprintf("%d passed, %d failed", len(rep.Results)-rep.Failed(), rep.Failed())
	if rep.RunID != "" {
		summary += p.muted("  run " + rep.RunID)
	}
	fmt.Fprintf(w, "%s %s\n", p.status(string(rep.Status())), summary)
	return nil
}
