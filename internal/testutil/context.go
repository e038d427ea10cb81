// Package testutil holds helpers shared by the harness's unit tests.
package testutil

import (
	"context"
	"errors"
	"time"
)

// RunResult holds the outcome of running a function under a deadline.
type RunResult struct {
	// Err is the error returned by the function (may be nil).
	Err error
	// WasCancelled is true if the error is a context cancellation or deadline.
	WasCancelled bool
	// Completed is true if the function returned before the timeout.
	Completed bool
	// Duration is how long the function ran.
	Duration time.Duration
}

// RunWithTimeout runs a function with a timeout context and reports whether
// it returned in time. Use it to prove that blocking code fails fast instead
// of hanging.
//
// Example:
//
//	result := testutil.RunWithTimeout(func(ctx context.Context) error {
//	    return controller.Start(ctx)
//	}, 2*time.Second)
//
//	if !result.Completed {
//	    t.Error("start hung")
//	}
func RunWithTimeout(fn func(context.Context) error, timeout time.Duration) RunResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)

	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return RunResult{
			Err:          err,
			WasCancelled: errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded),
			Completed:    true,
			Duration:     time.Since(start),
		}
	case <-time.After(timeout + 100*time.Millisecond): // Small buffer
		return RunResult{
			Completed: false,
			Duration:  time.Since(start),
		}
	}
}

// WaitForCondition polls a condition function until it returns true or timeout.
func WaitForCondition(condition func() bool, pollInterval, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}
