package render

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const testTemplate = `/subsystem=ejb3/service=timer-service/database-data-store=ejb_timer_ds:add(datasource-jndi-name="java:jboss/datasources/ejb_timer", database="postgresql", partition=%partition_name%)
# partition again: %partition_name%
`

func newMemRenderer(t *testing.T, cluster bool) (*Renderer, Template) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/res/etc/jbpm-custom-template.cli", []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &Renderer{
		Fs:        fs,
		OutputDir: "/res/etc",
		Prefix:    "jbpm-custom-",
		Cluster:   cluster,
		Registry:  NewRegistry(),
	}
	return r, Template{Path: "/res/etc/jbpm-custom-template.cli", Placeholder: DefaultPlaceholder}
}

func TestPartitionName(t *testing.T) {
	tests := []struct {
		node    string
		cluster bool
		want    string
	}{
		{"node1", true, "ejb_timer_node1_part"},
		{"node2", true, "ejb_timer_node1_part"},
		{"node1", false, "ejb_timer_node1_part"},
		{"node2", false, "ejb_timer_node2_part"},
	}
	for _, tt := range tests {
		if got := PartitionName(tt.node, tt.cluster); got != tt.want {
			t.Errorf("PartitionName(%q, %v) = %q, want %q", tt.node, tt.cluster, got, tt.want)
		}
	}
}

func TestRenderReplacesEveryPlaceholder(t *testing.T) {
	r, tmpl := newMemRenderer(t, false)

	art, err := r.Render(tmpl, "node2")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if art.Path != "/res/etc/jbpm-custom-node2.cli" {
		t.Errorf("Path = %q", art.Path)
	}

	data, err := afero.ReadFile(r.Fs, art.Path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, DefaultPlaceholder) {
		t.Errorf("placeholder left in output:\n%s", out)
	}
	if n := strings.Count(out, `"ejb_timer_node2_part"`); n != 2 {
		t.Errorf("quoted partition count = %d, want 2\n%s", n, out)
	}
}

func TestRenderIsPureForSameInput(t *testing.T) {
	r, tmpl := newMemRenderer(t, true)

	a, err := r.Render(tmpl, "node1")
	if err != nil {
		t.Fatal(err)
	}
	first, _ := afero.ReadFile(r.Fs, a.Path)
	if _, err := r.Render(tmpl, "node1"); err != nil {
		t.Fatal(err)
	}
	second, _ := afero.ReadFile(r.Fs, a.Path)
	if string(first) != string(second) {
		t.Error("rendering the same node twice produced different output")
	}
	if got := len(r.Registry.Artifacts()); got != 1 {
		t.Errorf("registry tracked %d artifacts, want 1", got)
	}
}

func TestRenderMissingTemplateIsSetupError(t *testing.T) {
	r, _ := newMemRenderer(t, true)

	_, err := r.Render(Template{Path: "/nope.cli"}, "node1")
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("Render() error = %v, want ErrSetup", err)
	}
}

func TestRenderUnwritableOutputIsSetupError(t *testing.T) {
	r, tmpl := newMemRenderer(t, true)
	r.Fs = afero.NewReadOnlyFs(r.Fs)

	_, err := r.Render(tmpl, "node1")
	if !errors.Is(err, ErrSetup) {
		t.Fatalf("Render() error = %v, want ErrSetup", err)
	}
}

func TestRenderAllAndCleanup(t *testing.T) {
	r, tmpl := newMemRenderer(t, false)

	arts, err := r.RenderAll(tmpl, []string{"node1", "node2", "node3"})
	if err != nil {
		t.Fatalf("RenderAll() error = %v", err)
	}
	if len(arts) != 3 {
		t.Fatalf("got %d artifacts, want 3", len(arts))
	}

	// One artifact vanishes before cleanup; that must not be reported.
	if err := r.Fs.Remove(arts[1].Path); err != nil {
		t.Fatal(err)
	}

	if err := r.Registry.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	for _, a := range arts {
		if ok, _ := afero.Exists(r.Fs, a.Path); ok {
			t.Errorf("%s still exists after cleanup", a.Path)
		}
	}
	if ok, _ := afero.Exists(r.Fs, tmpl.Path); !ok {
		t.Error("cleanup removed the template")
	}
	if len(r.Registry.Artifacts()) != 0 {
		t.Error("registry not emptied by cleanup")
	}
}

func TestWatcherDebounceAggregatesOps(t *testing.T) {
	w := &Watcher{
		logger:         log.Default(),
		debounceWindow: time.Hour,
		events:         make(chan WatchEvent, 4),
		errors:         make(chan error, 1),
		pending:        make(map[string]fsnotify.Op),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}

	w.record("/tmp/template.cli", fsnotify.Create)
	w.record("/tmp/template.cli", fsnotify.Write)
	w.timer.Stop()
	w.flush()

	ev := <-w.events
	if ev.Op&(fsnotify.Create|fsnotify.Write) != fsnotify.Create|fsnotify.Write {
		t.Fatalf("ops not aggregated: %v", ev.Op)
	}
	select {
	case extra := <-w.events:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestWatcherEmitsOnTemplateWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.cli")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, log.Default())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	// Changes to siblings are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.cli"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Base(ev.Path) != "template.cli" {
			t.Fatalf("event for %s, want template.cli", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event for template write")
	}
}
