package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kiesamples/timerharness/internal/scenario"
)

func init() {
	rootCmd.AddCommand(scenariosCmd)
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List the built-in scenarios and their expected timer counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		exps := scenario.DefaultExpectations()
		w := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(w, exps)
		}
		p := newPrinter(w)
		t := newTable(p.styled,
			column{Header: "NAME"},
			column{Header: "PROCESS"},
			column{Header: "BEFORE"},
			column{Header: "AFTER"},
			column{Header: "DESCRIPTION", MaxWidth: detectWidth() / 2},
		)
		for _, e := range exps {
			t.addRow(e.Name, e.ProcessID, strconv.Itoa(e.TimersBeforeSignal), strconv.Itoa(e.TimersAfterSignal), e.Description)
		}
		fmt.Fprintln(w, t.render())
		return nil
	},
}
