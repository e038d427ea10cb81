// Package lifecycle starts a topology in dependency order, hands it to the
// scenario code and tears it down on every exit path.
//
// Startup order is network, then database, then all service nodes in
// parallel. Teardown is unconditional: it runs after readiness failures,
// scenario failures and panics alike, and finishes with a best-effort removal
// of images carrying the cleanup label.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/kiesamples/timerharness/internal/containers"
	"github.com/kiesamples/timerharness/internal/topology"
)

// ErrNotReady is returned by accessors before the topology is ready.
var ErrNotReady = errors.New("topology is not ready")

// Runtime starts and cleans up the pieces of a topology.
type Runtime interface {
	CreateNetwork(ctx context.Context) (containers.NetworkHandle, error)
	StartDatabase(ctx context.Context, networkName string, spec topology.DatabaseSpec) (containers.DatabaseHandle, error)
	StartNode(ctx context.Context, networkName string, spec topology.NodeSpec) (containers.NodeHandle, error)
	RemoveLabeledImages(ctx context.Context, label string) (int, error)
}

// ReadinessError reports a component that failed to start or become ready.
type ReadinessError struct {
	Component string
	Err       error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s did not become ready: %v", e.Component, e.Err)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// Options configures a Controller.
type Options struct {
	Logger *log.Logger
	// ImageLabel selects images to remove after teardown. Empty disables removal.
	ImageLabel string
}

// Controller drives one topology through its lifecycle.
type Controller struct {
	runtime Runtime
	topo    *topology.Topology
	logger  *log.Logger
	opts    Options

	mu       sync.Mutex
	state    State
	history  []State
	failure  error
	network  containers.NetworkHandle
	database containers.DatabaseHandle
	nodes    map[string]containers.NodeHandle
}

// NewController returns a controller in the UNSTARTED state.
func NewController(rt Runtime, topo *topology.Topology, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		runtime: rt,
		topo:    topo,
		logger:  logger.WithPrefix("lifecycle"),
		opts:    opts,
		state:   StateUnstarted,
		history: []State{StateUnstarted},
		nodes:   make(map[string]containers.NodeHandle),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state visited, in order.
func (c *Controller) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.history...)
}

// Err returns the error that moved the controller to FAILED, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Controller) transitionLocked(to State) error {
	if !CanTransition(c.state, to) {
		return &TransitionError{From: c.state, To: to}
	}
	c.logger.Debug("state change", "from", c.state, "to", to)
	c.state = to
	c.history = append(c.history, to)
	return nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
	if c.state != StateFailed {
		_ = c.transitionLocked(StateFailed)
	}
	c.logger.Error("run failed", "error", err)
}

// Start brings the topology up. The database must be ready before any
// service node starts; nodes start concurrently. On failure the controller
// is FAILED and Teardown still has to be called.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}
	if err := c.start(ctx); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateReady)
}

func (c *Controller) start(ctx context.Context) error {
	nw, err := c.runtime.CreateNetwork(ctx)
	if err != nil {
		return &ReadinessError{Component: "network", Err: err}
	}
	c.mu.Lock()
	c.network = nw
	c.mu.Unlock()

	db, err := c.runtime.StartDatabase(ctx, nw.Name(), c.topo.Database)
	if err != nil {
		return &ReadinessError{Component: "database", Err: err}
	}
	c.mu.Lock()
	c.database = db
	c.mu.Unlock()

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for _, spec := range c.topo.Nodes {
		p.Go(func(ctx context.Context) error {
			h, err := c.runtime.StartNode(ctx, nw.Name(), spec)
			if err != nil {
				return &ReadinessError{Component: "node " + spec.Name, Err: err}
			}
			c.mu.Lock()
			c.nodes[spec.Name] = h
			c.mu.Unlock()
			c.logger.Info("node ready", "node", spec.Name)
			return nil
		})
	}
	return p.Wait()
}

// Exercise runs fn against a ready topology. An error from fn marks the run
// FAILED; otherwise the controller returns to READY so it can be exercised
// again.
func (c *Controller) Exercise(ctx context.Context, fn func(context.Context) error) error {
	if err := c.transition(StateExercising); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		c.fail(err)
		return err
	}
	return c.transition(StateReady)
}

// Teardown stops every started container and the network, then removes
// labelled images. It runs even when ctx is already cancelled, is safe to
// call more than once, and never reports image removal failures.
func (c *Controller) Teardown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	switch c.state {
	case StateStopped, StateTearingDown:
		c.mu.Unlock()
		return nil
	case StateStarting:
		_ = c.transitionLocked(StateFailed)
	case StateExercising:
		if c.failure == nil {
			c.failure = errors.New("teardown while exercising")
		}
		_ = c.transitionLocked(StateFailed)
	}
	if err := c.transitionLocked(StateTearingDown); err != nil {
		c.mu.Unlock()
		return err
	}
	nodes := make([]containers.NodeHandle, 0, len(c.nodes))
	for _, spec := range c.topo.Nodes {
		if h, ok := c.nodes[spec.Name]; ok {
			nodes = append(nodes, h)
		}
	}
	db, nw := c.database, c.network
	c.nodes = make(map[string]containers.NodeHandle)
	c.database, c.network = nil, nil
	c.mu.Unlock()

	var errs []error
	for _, h := range nodes {
		if err := h.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminating node %s: %w", h.Name(), err))
		}
	}
	if db != nil {
		if err := db.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminating database: %w", err))
		}
	}
	if nw != nil {
		if err := nw.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("removing network %s: %w", nw.Name(), err))
		}
	}

	if c.opts.ImageLabel != "" {
		n, err := c.runtime.RemoveLabeledImages(ctx, c.opts.ImageLabel)
		if err != nil {
			c.logger.Warn("image cleanup incomplete", "label", c.opts.ImageLabel, "removed", n, "error", err)
		} else {
			c.logger.Info("images removed", "label", c.opts.ImageLabel, "count", n)
		}
	}

	if err := c.transition(StateStopped); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run starts the topology, runs fn and always tears down. A teardown error
// is returned only when everything before it succeeded.
func (c *Controller) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if terr := c.Teardown(ctx); terr != nil {
			c.logger.Warn("teardown reported errors", "error", terr)
			if err == nil {
				err = terr
			}
		}
	}()
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Exercise(ctx, fn)
}

// DatabaseDSN returns a connection string for the database as reachable
// from the host.
func (c *Controller) DatabaseDSN(ctx context.Context) (string, error) {
	c.mu.Lock()
	db, state := c.database, c.state
	c.mu.Unlock()
	if db == nil || (state != StateReady && state != StateExercising) {
		return "", ErrNotReady
	}
	return db.ConnectionString(ctx)
}

// NodeEndpoint returns the externally mapped endpoint of a node.
func (c *Controller) NodeEndpoint(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	h, ok := c.nodes[name]
	state := c.state
	c.mu.Unlock()
	if state != StateReady && state != StateExercising {
		return "", ErrNotReady
	}
	if !ok {
		return "", fmt.Errorf("unknown node %q", name)
	}
	return h.Endpoint(ctx)
}

// Nodes returns the configured node names in topology order.
func (c *Controller) Nodes() []string {
	out := make([]string, 0, len(c.topo.Nodes))
	for _, n := range c.topo.Nodes {
		out = append(out, n.Name)
	}
	return out
}
