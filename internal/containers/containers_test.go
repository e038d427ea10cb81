package containers

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/image"
	"github.com/spf13/afero"
	"github.com/testcontainers/testcontainers-go"

	"github.com/kiesamples/timerharness/internal/topology"
)

func TestStageContextCopiesFilesAndLabelsImage(t *testing.T) {
	fs := afero.NewMemMapFs()
	mustWrite(t, fs, "/res/etc/Dockerfile", "ARG IMAGE_NAME\nFROM ${IMAGE_NAME}")
	mustWrite(t, fs, "/res/etc/jbpm-custom-node1.cli", "partition=\"ejb_timer_node1_part\"\n")
	mustWrite(t, fs, "/res/etc/kjars/org/kie/tx-ejb-sample-1.0.0.jar", "jar")
	mustWrite(t, fs, "/res/etc/kjars/org/kie/tx-ejb-sample-1.0.0.pom", "pom")

	spec := topology.NodeSpec{
		Name:       "node1",
		Dockerfile: "Dockerfile",
		ImageLabel: "autodelete=true",
		Files: []topology.File{
			{Source: "/res/etc/Dockerfile", Target: "Dockerfile"},
			{Source: "/res/etc/jbpm-custom-node1.cli", Target: "etc/jbpm-custom.cli"},
			{Source: "/res/etc/kjars", Target: "etc/kjars"},
		},
	}

	dir, err := StageContext(fs, spec)
	if err != nil {
		t.Fatalf("StageContext() error = %v", err)
	}

	dockerfile, err := afero.ReadFile(fs, filepath.Join(dir, "Dockerfile"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(dockerfile), "FROM ${IMAGE_NAME}\nLABEL autodelete=true\n") {
		t.Errorf("Dockerfile not labelled:\n%s", dockerfile)
	}

	for _, rel := range []string{
		"etc/jbpm-custom.cli",
		"etc/kjars/org/kie/tx-ejb-sample-1.0.0.jar",
		"etc/kjars/org/kie/tx-ejb-sample-1.0.0.pom",
	} {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, rel)); !ok {
			t.Errorf("%s not staged", rel)
		}
	}

	// The source Dockerfile is untouched.
	orig, _ := afero.ReadFile(fs, "/res/etc/Dockerfile")
	if strings.Contains(string(orig), "LABEL") {
		t.Error("source Dockerfile modified")
	}
}

func TestStageContextMissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	spec := topology.NodeSpec{
		Name:       "node1",
		Dockerfile: "Dockerfile",
		Files:      []topology.File{{Source: "/missing/Dockerfile", Target: "Dockerfile"}},
	}
	if _, err := StageContext(fs, spec); err == nil {
		t.Fatal("expected error for missing source")
	}
}

type fakeImageAPI struct {
	images   []image.Summary
	listErr  error
	failOn   map[string]bool
	removed  []string
	attempts []string
	lastOpts image.ListOptions
}

func (f *fakeImageAPI) ImageList(_ context.Context, opts image.ListOptions) ([]image.Summary, error) {
	f.lastOpts = opts
	return f.images, f.listErr
}

func (f *fakeImageAPI) ImageRemove(_ context.Context, id string, opts image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.attempts = append(f.attempts, id)
	if !opts.Force {
		return nil, errors.New("not forced")
	}
	if f.failOn[id] {
		return nil, errors.New("conflict: image in use")
	}
	f.removed = append(f.removed, id)
	return []image.DeleteResponse{{Deleted: id}}, nil
}

func TestRemoveLabeledContinuesPastFailures(t *testing.T) {
	api := &fakeImageAPI{
		images: []image.Summary{{ID: "sha256:a"}, {ID: "sha256:b"}, {ID: ""}, {ID: "sha256:c"}},
		failOn: map[string]bool{"sha256:b": true},
	}
	c := NewImageCleaner(api, log.New(&bytes.Buffer{}))

	n, err := c.RemoveLabeled(context.Background(), "autodelete=true")
	if err == nil || !strings.Contains(err.Error(), "sha256:b") {
		t.Fatalf("RemoveLabeled() error = %v, want failure for sha256:b", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if strings.Join(api.removed, ",") != "sha256:a,sha256:c" {
		t.Errorf("removed = %v", api.removed)
	}
	if len(api.attempts) != 3 {
		t.Errorf("attempts = %v, want 3 (empty id skipped)", api.attempts)
	}
	if got := api.lastOpts.Filters.Get("label"); len(got) != 1 || got[0] != "autodelete=true" {
		t.Errorf("label filter = %v", got)
	}
}

func TestRemoveLabeledListError(t *testing.T) {
	api := &fakeImageAPI{listErr: errors.New("daemon down")}
	n, err := NewImageCleaner(api, nil).RemoveLabeled(context.Background(), "autodelete=true")
	if err == nil || n != 0 {
		t.Fatalf("RemoveLabeled() = %d, %v; want 0 and error", n, err)
	}
}

func TestLogForwarderPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	f := NewLogForwarder(logger, "KIE-LOG-node1")

	f.Accept(testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte("WFLYSRV0025: WildFly Full 23 started in 12345ms\n")})
	f.Accept(testcontainers.Log{LogType: testcontainers.StderrLog, Content: []byte("warning one\nwarning two\n")})

	out := buf.String()
	if strings.Count(out, "KIE-LOG-node1") != 3 {
		t.Errorf("expected 3 prefixed lines, got:\n%s", out)
	}
	if !strings.Contains(out, "started in 12345ms") {
		t.Errorf("stdout line missing:\n%s", out)
	}
}

func mustWrite(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
