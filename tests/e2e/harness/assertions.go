package harness

import (
	"context"
	"os"
	"path/filepath"
)

// AssertTimerCount fails the test unless the timer table holds want rows.
func (env *Environment) AssertTimerCount(want int) {
	env.T.Helper()
	got, err := env.Counter.CountTimers(context.Background())
	if err != nil {
		env.T.Fatalf("counting timers: %v", err)
	}
	env.Logger.Expected("timer rows", want, got, got == want)
	if got != want {
		env.T.Fatalf("timer rows = %d, want %d", got, want)
	}
}

// AssertFileExists fails unless rel exists under the project directory.
func (env *Environment) AssertFileExists(rel string) {
	env.T.Helper()
	if _, err := os.Stat(filepath.Join(env.ProjectDir, rel)); err != nil {
		env.T.Fatalf("expected %s to exist: %v", rel, err)
	}
}

// AssertFileNotExists fails if rel exists under the project directory.
func (env *Environment) AssertFileNotExists(rel string) {
	env.T.Helper()
	if _, err := os.Stat(filepath.Join(env.ProjectDir, rel)); err == nil {
		env.T.Fatalf("expected %s not to exist", rel)
	}
}

// AssertNoError fails the test if err is non-nil.
func (env *Environment) AssertNoError(err error, what string) {
	env.T.Helper()
	if err != nil {
		env.T.Fatalf("%s: unexpected error: %v", what, err)
	}
	env.Result("%s: ok", what)
}

// AssertError fails the test if err is nil.
func (env *Environment) AssertError(err error, what string) {
	env.T.Helper()
	if err == nil {
		env.T.Fatalf("%s: expected an error", what)
	}
	env.Result("%s: error as expected: %v", what, err)
}
