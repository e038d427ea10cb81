// Package render materializes per-node configuration files from a template.
package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DefaultPlaceholder is the token replaced by the partition name.
const DefaultPlaceholder = "%partition_name%"

// ErrSetup marks failures that must abort a run before any container starts.
var ErrSetup = errors.New("render setup failed")

// Template is a configuration template with a single placeholder token.
type Template struct {
	Path        string
	Placeholder string
}

// Artifact is a rendered, node-specific file.
type Artifact struct {
	Node      string `json:"node"`
	Partition string `json:"partition"`
	Path      string `json:"path"`
}

// PartitionName returns the timer partition for a node. In cluster mode every
// node shares node1's partition so timers are visible cluster-wide.
func PartitionName(node string, cluster bool) string {
	if cluster {
		node = "node1"
	}
	return "ejb_timer_" + node + "_part"
}

// Renderer writes artifacts into OutputDir as <Prefix><node>.cli.
type Renderer struct {
	Fs        afero.Fs
	OutputDir string
	Prefix    string
	Cluster   bool
	Registry  *Registry
}

// NewRenderer returns a renderer backed by the OS filesystem.
func NewRenderer(outputDir, prefix string, cluster bool, reg *Registry) *Renderer {
	return &Renderer{
		Fs:        afero.NewOsFs(),
		OutputDir: outputDir,
		Prefix:    prefix,
		Cluster:   cluster,
		Registry:  reg,
	}
}

// ArtifactPath returns where the artifact for node is written.
func (r *Renderer) ArtifactPath(node string) string {
	return filepath.Join(r.OutputDir, r.Prefix+node+".cli")
}

// Render substitutes every placeholder occurrence with the quoted partition
// name for node and writes the result.
func (r *Renderer) Render(tmpl Template, node string) (Artifact, error) {
	placeholder := tmpl.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	content, err := afero.ReadFile(r.Fs, tmpl.Path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: reading template %s: %v", ErrSetup, tmpl.Path, err)
	}

	partition := PartitionName(node, r.Cluster)
	rendered := strings.ReplaceAll(string(content), placeholder, `"`+partition+`"`)

	art := Artifact{Node: node, Partition: partition, Path: r.ArtifactPath(node)}
	if err := r.Fs.MkdirAll(r.OutputDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%w: creating %s: %v", ErrSetup, r.OutputDir, err)
	}
	if err := afero.WriteFile(r.Fs, art.Path, []byte(rendered), 0o644); err != nil {
		return Artifact{}, fmt.Errorf("%w: writing %s: %v", ErrSetup, art.Path, err)
	}

	if r.Registry != nil {
		r.Registry.Track(r.Fs, art)
	}
	return art, nil
}

// RenderAll renders one artifact per node, stopping at the first failure.
func (r *Renderer) RenderAll(tmpl Template, nodes []string) ([]Artifact, error) {
	out := make([]Artifact, 0, len(nodes))
	for _, node := range nodes {
		art, err := r.Render(tmpl, node)
		if err != nil {
			return out, err
		}
		out = append(out, art)
	}
	return out, nil
}

// Registry remembers rendered artifacts so they can be removed when the run ends.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
}

type registryEntry struct {
	fs  afero.Fs
	art Artifact
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Track records an artifact for later cleanup.
func (reg *Registry) Track(fs afero.Fs, art Artifact) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, e := range reg.entries {
		if e.fs == fs && e.art.Path == art.Path {
			return
		}
	}
	reg.entries = append(reg.entries, registryEntry{fs: fs, art: art})
}

// Artifacts lists tracked artifacts in render order.
func (reg *Registry) Artifacts() []Artifact {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]Artifact, 0, len(reg.entries))
	for _, e := range reg.entries {
		out = append(out, e.art)
	}
	return out
}

// Cleanup removes every tracked artifact. Missing files are not errors;
// other failures are joined and cleanup continues.
func (reg *Registry) Cleanup() error {
	reg.mu.Lock()
	entries := reg.entries
	reg.entries = nil
	reg.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fs.Remove(e.art.Path); err != nil {
			if exists, _ := afero.Exists(e.fs, e.art.Path); !exists {
				continue
			}
			errs = append(errs, fmt.Errorf("removing %s: %w", e.art.Path, err))
		}
	}
	return errors.Join(errs...)
}
