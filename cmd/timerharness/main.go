// Command timerharness runs the containerized EJB timer integration suite.
package main

import (
	"fmt"
	"os"

	"github.com/kiesamples/timerharness/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
