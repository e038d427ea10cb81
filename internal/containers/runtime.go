// Package containers runs topology specs as Docker containers through
// testcontainers-go.
package containers

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/spf13/afero"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kiesamples/timerharness/internal/topology"
)

// databaseReadyLog is printed twice by the postgres entrypoint: once by the
// temporary init server and once by the real one.
const databaseReadyLog = "database system is ready to accept connections"

// Handle is anything started by the runtime that must be stopped at teardown.
type Handle interface {
	Terminate(ctx context.Context) error
}

// NetworkHandle is a running private network.
type NetworkHandle interface {
	Handle
	Name() string
}

// DatabaseHandle is a running database container.
type DatabaseHandle interface {
	Handle
	ConnectionString(ctx context.Context) (string, error)
}

// NodeHandle is a running service node.
type NodeHandle interface {
	Handle
	Name() string
	// Endpoint is the externally mapped http://host:port of the service port.
	Endpoint(ctx context.Context) (string, error)
}

// Runtime starts topology specs with testcontainers-go.
type Runtime struct {
	logger *log.Logger
	fs     afero.Fs
}

// NewRuntime returns a Docker-backed runtime.
func NewRuntime(logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{logger: logger, fs: afero.NewOsFs()}
}

// CreateNetwork creates the shared private network.
func (r *Runtime) CreateNetwork(ctx context.Context) (NetworkHandle, error) {
	nw, err := network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating network: %w", err)
	}
	r.logger.Info("network created", "name", nw.Name)
	return &dockerNetwork{nw: nw}, nil
}

// StartDatabase starts PostgreSQL on the network and waits until it accepts
// connections.
func (r *Runtime) StartDatabase(ctx context.Context, networkName string, spec topology.DatabaseSpec) (DatabaseHandle, error) {
	opts := []testcontainers.ContainerCustomizer{
		postgres.WithDatabase(spec.Name),
		postgres.WithUsername(spec.User),
		postgres.WithPassword(spec.Password),
		withNetworkAlias(networkName, spec.Alias),
		withCmd(append([]string{"postgres"}, spec.Args...)),
		testcontainers.WithWaitStrategy(
			wait.ForLog(databaseReadyLog).WithOccurrence(2).WithStartupTimeout(spec.StartupTimeout),
		),
	}
	if spec.InitDir != "" {
		bind := spec.InitDir + ":" + topology.InitScriptsDir + ":ro"
		opts = append(opts, testcontainers.WithHostConfigModifier(func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, bind)
		}))
	}

	c, err := postgres.Run(ctx, spec.Image, opts...)
	if err != nil {
		if c != nil {
			_ = c.Terminate(ctx)
		}
		return nil, fmt.Errorf("starting database %s: %w", spec.Image, err)
	}
	r.logger.Info("database ready", "image", spec.Image, "alias", spec.Alias)
	return &postgresHandle{c: c}, nil
}

// StartNode builds the node image from its staged context and starts it,
// blocking until the readiness pattern shows up in its log.
func (r *Runtime) StartNode(ctx context.Context, networkName string, spec topology.NodeSpec) (NodeHandle, error) {
	dir, err := StageContext(r.fs, spec)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.fs.RemoveAll(dir) }()

	buildArgs := make(map[string]*string, len(spec.BuildArgs))
	for k, v := range spec.BuildArgs {
		buildArgs[k] = &v
	}

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:    dir,
				Dockerfile: spec.Dockerfile,
				BuildArgs:  buildArgs,
				KeepImage:  true,
			},
			Env:            spec.Env,
			ExposedPorts:   []string{spec.PortSpec()},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {spec.Alias}},
			WaitingFor:     wait.ForLog(spec.ReadyPattern).AsRegexp().WithStartupTimeout(spec.StartupTimeout),
			LogConsumerCfg: &testcontainers.LogConsumerConfig{
				Consumers: []testcontainers.LogConsumer{NewLogForwarder(r.logger, spec.LogLabel)},
			},
		},
		Started: true,
	}

	r.logger.Info("starting node", "node", spec.Name, "alias", spec.Alias, "timeout", spec.StartupTimeout)
	c, err := testcontainers.GenericContainer(ctx, req)
	if err != nil {
		if c != nil {
			_ = c.Terminate(ctx)
		}
		return nil, fmt.Errorf("starting node %s: %w", spec.Name, err)
	}
	return &nodeHandle{name: spec.Name, port: nat.Port(spec.PortSpec()), c: c}, nil
}

// RemoveLabeledImages force-removes images carrying label.
func (r *Runtime) RemoveLabeledImages(ctx context.Context, label string) (int, error) {
	cli, err := testcontainers.NewDockerClientWithOpts(ctx)
	if err != nil {
		return 0, fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()
	return NewImageCleaner(cli, r.logger).RemoveLabeled(ctx, label)
}

func withNetworkAlias(networkName, alias string) testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		req.Networks = append(req.Networks, networkName)
		if req.NetworkAliases == nil {
			req.NetworkAliases = make(map[string][]string)
		}
		req.NetworkAliases[networkName] = append(req.NetworkAliases[networkName], alias)
		return nil
	}
}

func withCmd(cmd []string) testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		req.Cmd = cmd
		return nil
	}
}

type dockerNetwork struct {
	nw *testcontainers.DockerNetwork
}

func (n *dockerNetwork) Name() string { return n.nw.Name }

func (n *dockerNetwork) Terminate(ctx context.Context) error {
	return n.nw.Remove(ctx)
}

type postgresHandle struct {
	c *postgres.PostgresContainer
}

func (p *postgresHandle) ConnectionString(ctx context.Context) (string, error) {
	return p.c.ConnectionString(ctx, "sslmode=disable")
}

func (p *postgresHandle) Terminate(ctx context.Context) error {
	return p.c.Terminate(ctx)
}

type nodeHandle struct {
	name string
	port nat.Port
	c    testcontainers.Container
}

func (n *nodeHandle) Name() string { return n.name }

func (n *nodeHandle) Endpoint(ctx context.Context) (string, error) {
	return n.c.PortEndpoint(ctx, n.port, "http")
}

func (n *nodeHandle) Terminate(ctx context.Context) error {
	return n.c.Terminate(ctx)
}
