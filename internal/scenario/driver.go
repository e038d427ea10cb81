package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/kieclient"
)

// Settle modes.
const (
	SettleFixed = "fixed"
	SettlePoll  = "poll"
)

// ProcessClient is the subset of the REST client the driver uses.
type ProcessClient interface {
	CreateContainer(ctx context.Context, res kieclient.ContainerResource) error
	DisposeContainer(ctx context.Context, containerID string) error
	StartProcess(ctx context.Context, containerID, processID string) (int64, error)
	Signal(ctx context.Context, containerID, signal string) error
}

// TimerCounter reads the persisted timer count.
type TimerCounter interface {
	CountTimers(ctx context.Context) (int, error)
	WaitForCount(ctx context.Context, want int, interval, timeout time.Duration) (int, error)
}

// Options tunes the driver.
type Options struct {
	Logger       *log.Logger
	Signal       string
	SettleMode   string
	FirstWait    time.Duration
	SecondWait   time.Duration
	PollInterval time.Duration
	// Sleep replaces the fixed-mode wait. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg config.ScenarioConfig, logger *log.Logger) Options {
	return Options{
		Logger:       logger,
		Signal:       cfg.Signal,
		SettleMode:   cfg.SettleMode,
		FirstWait:    cfg.FirstWait(),
		SecondWait:   cfg.SecondWait(),
		PollInterval: cfg.PollInterval(),
	}
}

// Driver runs scenarios one at a time against a single deployment.
type Driver struct {
	client     ProcessClient
	counter    TimerCounter
	deployment Deployment
	opts       Options
	logger     *log.Logger
}

// NewDriver returns a driver. Zero option values take the defaults used by
// the reference suite: signal "Signal", 1s and 5s fixed waits.
func NewDriver(client ProcessClient, counter TimerCounter, dep Deployment, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Signal == "" {
		opts.Signal = "Signal"
	}
	if opts.SettleMode == "" {
		opts.SettleMode = SettleFixed
	}
	if opts.FirstWait <= 0 {
		opts.FirstWait = time.Second
	}
	if opts.SecondWait <= 0 {
		opts.SecondWait = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Driver{
		client:     client,
		counter:    counter,
		deployment: dep,
		opts:       opts,
		logger:     opts.Logger.WithPrefix("scenario"),
	}
}

// Deployment returns the unit this driver provisions.
func (d *Driver) Deployment() Deployment { return d.deployment }

// Provision deploys the unit. It must precede every Run.
func (d *Driver) Provision(ctx context.Context) error {
	id := d.deployment.ContainerID()
	d.logger.Info("provisioning", "container", id, "alias", d.deployment.Alias())
	if err := d.client.CreateContainer(ctx, d.deployment.Resource()); err != nil {
		return fmt.Errorf("%s %s: %w", StepProvision, id, err)
	}
	return nil
}

// Run executes one scenario and returns the started process instance id.
//
// The sequence is start, settle, expect TimersBeforeSignal, signal, settle,
// expect TimersAfterSignal. The first failed check ends the scenario.
func (d *Driver) Run(ctx context.Context, exp Expectation) (int64, error) {
	containerID := d.deployment.ContainerID()
	logger := d.logger.With("scenario", exp.Name)

	instanceID, err := d.client.StartProcess(ctx, containerID, exp.ProcessID)
	if err != nil {
		return 0, fmt.Errorf("%s: %s %s: %w", exp.Name, StepStart, exp.ProcessID, err)
	}
	if instanceID <= 0 {
		return instanceID, &AssertionError{Scenario: exp.Name, Step: StepStart, Got: instanceID}
	}
	logger.Info("process started", "process", exp.ProcessID, "instance", instanceID)

	if err := d.expect(ctx, exp.Name, StepFirstCount, exp.TimersBeforeSignal, d.opts.FirstWait); err != nil {
		return instanceID, err
	}

	logger.Info("sending signal", "signal", d.opts.Signal)
	if err := d.client.Signal(ctx, containerID, d.opts.Signal); err != nil {
		return instanceID, fmt.Errorf("%s: %s %s: %w", exp.Name, StepSignal, d.opts.Signal, err)
	}

	if err := d.expect(ctx, exp.Name, StepSecondCount, exp.TimersAfterSignal, d.opts.SecondWait); err != nil {
		return instanceID, err
	}
	logger.Info("scenario passed", "timers", exp.TimersAfterSignal)
	return instanceID, nil
}

// Dispose undeploys the unit and requires the timer table to be empty
// afterwards.
func (d *Driver) Dispose(ctx context.Context) error {
	id := d.deployment.ContainerID()
	d.logger.Info("disposing", "container", id)
	if err := d.client.DisposeContainer(ctx, id); err != nil {
		return fmt.Errorf("%s %s: %w", StepDispose, id, err)
	}
	n, err := d.counter.CountTimers(ctx)
	if err != nil {
		return fmt.Errorf("%s: counting timers: %w", StepDispose, err)
	}
	if n != 0 {
		return &AssertionError{Scenario: id, Step: StepDispose, Want: 0, Got: int64(n)}
	}
	return nil
}

func (d *Driver) expect(ctx context.Context, scenario, step string, want int, wait time.Duration) error {
	got, err := d.settle(ctx, want, wait)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", scenario, step, err)
	}
	d.logger.Debug("timer count", "scenario", scenario, "step", step, "want", want, "got", got)
	if got != want {
		return &AssertionError{Scenario: scenario, Step: step, Want: int64(want), Got: int64(got)}
	}
	return nil
}

// settle waits out one quiescence interval and returns the count read at
// its end. Poll mode reads early while the count differs from want, but a
// match only counts once the full interval has passed and a second read
// still agrees.
func (d *Driver) settle(ctx context.Context, want int, wait time.Duration) (int, error) {
	if d.opts.SettleMode == SettlePoll {
		start := time.Now()
		got, err := d.counter.WaitForCount(ctx, want, d.opts.PollInterval, wait)
		if err != nil || got != want {
			return got, err
		}
		wait -= time.Since(start)
		if wait <= 0 {
			return d.counter.CountTimers(ctx)
		}
	}
	d.logger.Debug("sleeping", "for", wait)
	if err := d.opts.Sleep(ctx, wait); err != nil {
		return 0, err
	}
	return d.counter.CountTimers(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the outcome of one scenario within a suite.
type Result struct {
	Scenario   string
	ProcessID  string
	InstanceID int64
	Duration   time.Duration
	Err        error
}

// Passed reports whether the scenario and its disposal succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Suite runs a list of scenarios, each wrapped in provision and dispose.
type Suite struct {
	Driver       *Driver
	Expectations []Expectation
}

// RunAll runs every scenario in order. A failing scenario is recorded on its
// Result and the remaining scenarios still run. Dispose follows every
// successful provision.
func (s *Suite) RunAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(s.Expectations))
	for _, exp := range s.Expectations {
		results = append(results, s.runOne(ctx, exp))
	}
	return results
}

func (s *Suite) runOne(ctx context.Context, exp Expectation) Result {
	start := time.Now()
	res := Result{Scenario: exp.Name, ProcessID: exp.ProcessID}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if err := s.Driver.Provision(ctx); err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}
	id, runErr := s.Driver.Run(ctx, exp)
	res.InstanceID = id
	disposeErr := s.Driver.Dispose(ctx)
	res.Err = errors.Join(runErr, disposeErr)
	res.Duration = time.Since(start)
	if res.Err != nil {
		s.Driver.logger.Error("scenario failed", "scenario", exp.Name, "error", res.Err)
	}
	return res
}
