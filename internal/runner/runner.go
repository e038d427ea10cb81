// Package runner wires the harness together: it renders the per-node config,
// declares the topology, starts it, connects the REST client and the
// verifier, runs the scenarios and records the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/containers"
	"github.com/kiesamples/timerharness/internal/db"
	"github.com/kiesamples/timerharness/internal/kieclient"
	"github.com/kiesamples/timerharness/internal/lifecycle"
	"github.com/kiesamples/timerharness/internal/notify"
	"github.com/kiesamples/timerharness/internal/render"
	"github.com/kiesamples/timerharness/internal/scenario"
	"github.com/kiesamples/timerharness/internal/topology"
	"github.com/kiesamples/timerharness/internal/verify"
)

// ErrScenariosFailed is returned by Run when at least one scenario failed.
var ErrScenariosFailed = errors.New("scenarios failed")

// Options configures a Runner.
type Options struct {
	Logger *log.Logger
	// Runtime starts containers. Nil uses the Docker runtime.
	Runtime lifecycle.Runtime
	// History records runs when set.
	History *db.DB
	// ProjectDir is stored with each recorded run.
	ProjectDir string
	// OpenVerifier connects to the database DSN. Nil uses verify.Open.
	OpenVerifier func(ctx context.Context, dsn string) (*verify.Verifier, error)
	// Notifier reports finished runs. Nil builds one from cfg.Notify.
	Notifier *notify.Notifier
}

// Runner owns one harness configuration.
type Runner struct {
	cfg    *config.Config
	opts   Options
	logger *log.Logger
}

// New validates cfg and returns a runner.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Runtime == nil {
		opts.Runtime = containers.NewRuntime(opts.Logger)
	}
	if opts.OpenVerifier == nil {
		opts.OpenVerifier = verify.Open
	}
	if opts.Notifier == nil && cfg.Notify.WebhookURL != "" {
		opts.Notifier = notify.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.OnlyFailures, nil, opts.Logger)
	}
	return &Runner{cfg: cfg, opts: opts, logger: opts.Logger}, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() *config.Config { return r.cfg }

// Prepare renders one artifact per node and declares the topology. The
// returned registry owns the artifacts; the caller must Cleanup it.
func (r *Runner) Prepare() (*topology.Topology, *render.Registry, error) {
	reg := render.NewRegistry()
	renderer := render.NewRenderer(r.cfg.Artifact.OutputDir, r.cfg.Artifact.Prefix, r.cfg.Server.Cluster, reg)
	tmpl := render.Template{Path: r.cfg.Artifact.Template, Placeholder: r.cfg.Artifact.Placeholder}

	arts, err := renderer.RenderAll(tmpl, r.cfg.Server.Nodes)
	if err != nil {
		return nil, reg, err
	}
	for _, a := range arts {
		r.logger.Debug("artifact rendered", "node", a.Node, "partition", a.Partition, "path", a.Path)
	}

	topo, err := topology.Build(r.cfg, arts)
	if err != nil {
		return nil, reg, err
	}
	return topo, reg, nil
}

// Session is a started topology with connected clients.
type Session struct {
	Controller *lifecycle.Controller
	Verifier   *verify.Verifier
	Client     *kieclient.Client
	Driver     *scenario.Driver

	registry *render.Registry
	logger   *log.Logger
}

// Open prepares and starts the topology and connects to it. On error
// everything already started is torn down before returning.
func (r *Runner) Open(ctx context.Context) (_ *Session, err error) {
	topo, reg, err := r.Prepare()
	if err != nil {
		if cerr := reg.Cleanup(); cerr != nil {
			r.logger.Warn("artifact cleanup failed", "error", cerr)
		}
		return nil, err
	}

	label := ""
	if r.cfg.Cleanup.Enabled {
		label = r.cfg.Cleanup.ImageLabel
	}
	s := &Session{
		Controller: lifecycle.NewController(r.opts.Runtime, topo, lifecycle.Options{Logger: r.logger, ImageLabel: label}),
		registry:   reg,
		logger:     r.logger,
	}
	defer func() {
		if err != nil {
			if cerr := s.Close(ctx); cerr != nil {
				r.logger.Warn("cleanup after failed start", "error", cerr)
			}
		}
	}()

	if err := s.Controller.Start(ctx); err != nil {
		return nil, err
	}

	dsn, err := s.Controller.DatabaseDSN(ctx)
	if err != nil {
		return nil, err
	}
	s.Verifier, err = r.opts.OpenVerifier(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting verifier: %w", err)
	}

	endpoint, err := s.Controller.NodeEndpoint(ctx, topo.Nodes[0].Name)
	if err != nil {
		return nil, err
	}
	s.Client, err = kieclient.New(kieclient.Config{
		BaseURL:  kieclient.BaseURL(endpoint),
		User:     r.cfg.Client.User,
		Password: r.cfg.Client.Password,
		Timeout:  r.cfg.Client.RequestTimeout(),
		Format:   r.cfg.Client.Format,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("authenticating against %s: %w", endpoint, err)
	}
	r.logger.Info("server reachable", "endpoint", endpoint)

	s.Driver = scenario.NewDriver(s.Client, s.Verifier,
		scenario.DeploymentFromConfig(r.cfg.Deployment),
		scenario.OptionsFromConfig(r.cfg.Scenario, r.logger))
	return s, nil
}

// Close disconnects, tears the topology down and deletes rendered
// artifacts. Every step runs even if an earlier one fails.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.Verifier != nil {
		if err := s.Verifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing verifier: %w", err))
		}
		s.Verifier = nil
	}
	if err := s.Controller.Teardown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Cleanup(); err != nil {
		errs = append(errs, fmt.Errorf("removing artifacts: %w", err))
	}
	return errors.Join(errs...)
}

// Report summarises a Run.
type Report struct {
	RunID   string            `json:"run_id,omitempty"`
	Results []scenario.Result `json:"-"`
	// Err is a setup, readiness or teardown failure.
	Err error `json:"-"`
}

// Failed returns how many scenarios failed.
func (rep *Report) Failed() int {
	n := 0
	for _, res := range rep.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Status maps the report onto a history status.
func (rep *Report) Status() db.RunStatus {
	switch {
	case rep.Err != nil:
		return db.RunError
	case rep.Failed() > 0:
		return db.RunFailed
	default:
		return db.RunPassed
	}
}

// Run starts the topology, runs exps and always tears down. The returned
// error is the setup failure, ErrScenariosFailed, or a teardown failure.
func (r *Runner) Run(ctx context.Context, exps []scenario.Expectation) (*Report, error) {
	rep := &Report{}
	r.beginHistory(rep)

	s, err := r.Open(ctx)
	if err != nil {
		rep.Err = err
		r.finish(ctx, rep)
		return rep, err
	}

	exErr := s.Controller.Exercise(ctx, func(ctx context.Context) error {
		suite := &scenario.Suite{Driver: s.Driver, Expectations: exps}
		rep.Results = suite.RunAll(ctx)
		if n := rep.Failed(); n > 0 {
			return fmt.Errorf("%w: %d of %d", ErrScenariosFailed, n, len(exps))
		}
		return nil
	})
	closeErr := s.Close(ctx)
	if closeErr != nil {
		rep.Err = closeErr
	}
	r.finish(ctx, rep)

	if exErr != nil {
		return rep, exErr
	}
	return rep, closeErr
}

func (r *Runner) finish(ctx context.Context, rep *Report) {
	r.finishHistory(rep)
	r.opts.Notifier.Notify(context.WithoutCancel(ctx), r.payload(rep))
}

func (r *Runner) payload(rep *Report) notify.Payload {
	p := notify.Payload{
		RunID: rep.RunID,
		Image: r.cfg.Server.ImageName,
		Nodes: r.cfg.Server.Nodes,
	}
	switch rep.Status() {
	case db.RunPassed:
		p.Event = notify.EventRunPassed
	case db.RunFailed:
		p.Event = notify.EventRunFailed
	default:
		p.Event = notify.EventRunError
	}
	if rep.Err != nil {
		p.Error = rep.Err.Error()
	}
	for _, res := range rep.Results {
		o := notify.ScenarioOutcome{Name: res.Scenario, Passed: res.Passed(), InstanceID: res.InstanceID}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		p.Scenarios = append(p.Scenarios, o)
	}
	return p
}

func (r *Runner) beginHistory(rep *Report) {
	if r.opts.History == nil {
		return
	}
	run := &db.Run{
		ProjectPath: r.opts.ProjectDir,
		ServerImage: r.cfg.Server.ImageName,
		Nodes:       r.cfg.Server.Nodes,
		Cluster:     r.cfg.Server.Cluster,
		SettleMode:  r.cfg.Scenario.SettleMode,
	}
	if err := r.opts.History.CreateRun(run); err != nil {
		r.logger.Warn("run history unavailable", "error", err)
		return
	}
	rep.RunID = run.ID
}

func (r *Runner) finishHistory(rep *Report) {
	if r.opts.History == nil || rep.RunID == "" {
		return
	}
	for _, res := range rep.Results {
		sr := &db.ScenarioResult{
			RunID:      rep.RunID,
			Scenario:   res.Scenario,
			ProcessID:  res.ProcessID,
			InstanceID: res.InstanceID,
			Passed:     res.Passed(),
			Duration:   res.Duration,
		}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		}
		if err := r.opts.History.RecordScenario(sr); err != nil {
			r.logger.Warn("recording scenario failed", "scenario", res.Scenario, "error", err)
		}
	}
	var runErr error
	switch {
	case rep.Err != nil:
		runErr = rep.Err
	case rep.Failed() > 0:
		runErr = fmt.Errorf("%w: %d of %d", ErrScenariosFailed, rep.Failed(), len(rep.Results))
	}
	if err := r.opts.History.FinishRun(rep.RunID, rep.Status(), runErr); err != nil {
		r.logger.Warn("finishing run record failed", "error", err)
	}
}
