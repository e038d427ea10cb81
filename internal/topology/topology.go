// Package topology declares the containers, network and wiring of a harness
// run. It describes desired state only; starting anything is the lifecycle
// controller's job.
package topology

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/render"
)

// InitScriptsDir is where the database image picks up init scripts.
const InitScriptsDir = "/docker-entrypoint-initdb.d"

// File is a host file injected into a node's build context.
type File struct {
	// Source is the host path.
	Source string
	// Target is the path relative to the build context root.
	Target string
}

// NodeSpec declares one service node.
type NodeSpec struct {
	Name           string
	Alias          string
	Dockerfile     string
	Files          []File
	BuildArgs      map[string]string
	Env            map[string]string
	Port           int
	ReadyPattern   string
	StartupTimeout time.Duration
	LogLabel       string
	ImageLabel     string
}

// PortSpec returns the exposed port in "8080/tcp" form.
func (n NodeSpec) PortSpec() string {
	return strconv.Itoa(n.Port) + "/tcp"
}

// DatabaseSpec declares the database container.
type DatabaseSpec struct {
	Image          string
	Name           string
	User           string
	Password       string
	Alias          string
	InitDir        string
	Args           []string
	StartupTimeout time.Duration
}

// Topology is one shared network plus the database and service nodes on it.
type Topology struct {
	Database DatabaseSpec
	Nodes    []NodeSpec
}

// Node returns the node spec with the given name.
func (t *Topology) Node(name string) (NodeSpec, bool) {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Aliases returns every network alias, database first.
func (t *Topology) Aliases() []string {
	out := []string{t.Database.Alias}
	for _, n := range t.Nodes {
		out = append(out, n.Alias)
	}
	return out
}

// Validate checks that aliases are present and unique within the network.
func (t *Topology) Validate() error {
	var errs []error
	if len(t.Nodes) == 0 {
		errs = append(errs, errors.New("topology has no service nodes"))
	}
	seen := make(map[string]bool)
	for _, alias := range t.Aliases() {
		if strings.TrimSpace(alias) == "" {
			errs = append(errs, errors.New("empty network alias"))
			continue
		}
		if seen[alias] {
			errs = append(errs, fmt.Errorf("duplicate network alias %q", alias))
		}
		seen[alias] = true
	}
	names := make(map[string]bool)
	for _, n := range t.Nodes {
		if names[n.Name] {
			errs = append(errs, fmt.Errorf("duplicate node name %q", n.Name))
		}
		names[n.Name] = true
		if n.Port <= 0 {
			errs = append(errs, fmt.Errorf("node %s: port must be > 0", n.Name))
		}
		if n.StartupTimeout <= 0 {
			errs = append(errs, fmt.Errorf("node %s: startup timeout must be > 0", n.Name))
		}
	}
	return errors.Join(errs...)
}

// Build declares the topology for cfg. artifacts must hold one rendered
// config artifact per configured node.
func Build(cfg *config.Config, artifacts []render.Artifact) (*Topology, error) {
	db, err := buildDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	byNode := make(map[string]render.Artifact, len(artifacts))
	for _, a := range artifacts {
		byNode[a.Node] = a
	}

	topo := &Topology{Database: db}
	for i, name := range cfg.Server.Nodes {
		art, ok := byNode[name]
		if !ok {
			return nil, fmt.Errorf("no rendered artifact for node %s", name)
		}
		topo.Nodes = append(topo.Nodes, buildNode(cfg, i, name, art))
	}

	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return topo, nil
}

func buildDatabase(c config.DatabaseConfig) (DatabaseSpec, error) {
	args, err := shellwords.Parse(c.Args)
	if err != nil {
		return DatabaseSpec{}, fmt.Errorf("parsing database.args %q: %w", c.Args, err)
	}
	initDir := c.InitDir
	if initDir != "" {
		if abs, err := filepath.Abs(initDir); err == nil {
			initDir = abs
		}
	}
	return DatabaseSpec{
		Image:          c.Image,
		Name:           c.Name,
		User:           c.User,
		Password:       c.Password,
		Alias:          c.Alias,
		InitDir:        initDir,
		Args:           args,
		StartupTimeout: c.StartupTimeout(),
	}, nil
}

func buildNode(cfg *config.Config, index int, name string, art render.Artifact) NodeSpec {
	s := cfg.Server

	alias := s.Alias
	if index > 0 {
		alias = s.Alias + "-" + name
	}

	files := []File{
		{Source: filepath.Join(s.ContextDir, s.Dockerfile), Target: "Dockerfile"},
		{Source: art.Path, Target: cfg.Artifact.ContainerPath},
	}
	for _, f := range s.ContextFiles {
		files = append(files, File{Source: filepath.Join(s.ContextDir, f), Target: filepath.ToSlash(filepath.Join("etc", f))})
	}

	env := map[string]string{
		"START_SCRIPT": s.StartScript,
		"JAVA_OPTS":    JavaOpts(s),
	}
	if s.Variant != "" {
		env["SERVER"] = s.Variant
	}
	for k, v := range s.Env {
		env[k] = v
	}

	return NodeSpec{
		Name:           name,
		Alias:          alias,
		Dockerfile:     "Dockerfile",
		Files:          files,
		BuildArgs:      map[string]string{"IMAGE_NAME": s.ImageName},
		Env:            env,
		Port:           s.Port,
		ReadyPattern:   s.ReadyPattern,
		StartupTimeout: s.StartupTimeout(),
		LogLabel:       "KIE-LOG-" + name,
		ImageLabel:     cfg.Cleanup.ImageLabel,
	}
}

// JavaOpts composes the JVM options passed to every node.
func JavaOpts(s config.ServerConfig) string {
	parts := []string{strings.TrimSpace(s.JavaOpts)}
	parts = append(parts,
		"-Dorg.jbpm.ejb.timer.local.cache="+strconv.FormatBool(s.TimerLocalCache),
		"-Dorg.jbpm.ejb.timer.tx="+strconv.FormatBool(s.TimerTx),
	)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SortedEnv returns env as KEY=VALUE pairs in key order.
func SortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
