package topology

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/render"
)

func testConfig(nodes ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.ImageName = "quay.io/kiegroup/kie-server:7.52"
	cfg.Server.StartScript = "start_kie.sh"
	cfg.Server.Nodes = nodes
	cfg.Server.ContextFiles = []string{"drivers/postgresql-42.2.19.jar", "kjars"}
	return &cfg
}

func artifactsFor(nodes ...string) []render.Artifact {
	var out []render.Artifact
	for _, n := range nodes {
		out = append(out, render.Artifact{Node: n, Partition: render.PartitionName(n, true), Path: "/tmp/jbpm-custom-" + n + ".cli"})
	}
	return out
}

func TestBuildSingleNode(t *testing.T) {
	topo, err := Build(testConfig("node1"), artifactsFor("node1"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(topo.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(topo.Nodes))
	}
	n := topo.Nodes[0]
	if n.Alias != "kie-server" {
		t.Errorf("Alias = %q, want kie-server", n.Alias)
	}
	if n.PortSpec() != "8080/tcp" {
		t.Errorf("PortSpec() = %q", n.PortSpec())
	}
	if n.StartupTimeout != 5*time.Minute {
		t.Errorf("StartupTimeout = %s, want 5m", n.StartupTimeout)
	}
	if n.ReadyPattern != ".*WildFly.*started in.*" {
		t.Errorf("ReadyPattern = %q", n.ReadyPattern)
	}
	if n.BuildArgs["IMAGE_NAME"] != "quay.io/kiegroup/kie-server:7.52" {
		t.Errorf("IMAGE_NAME build arg = %q", n.BuildArgs["IMAGE_NAME"])
	}
	if n.Env["START_SCRIPT"] != "start_kie.sh" {
		t.Errorf("START_SCRIPT = %q", n.Env["START_SCRIPT"])
	}
	if !strings.Contains(n.Env["JAVA_OPTS"], "-Dorg.jbpm.ejb.timer.tx=true") {
		t.Errorf("JAVA_OPTS missing timer tx flag: %q", n.Env["JAVA_OPTS"])
	}
	if n.ImageLabel != "autodelete=true" {
		t.Errorf("ImageLabel = %q", n.ImageLabel)
	}
	if n.LogLabel != "KIE-LOG-node1" {
		t.Errorf("LogLabel = %q", n.LogLabel)
	}

	var gotArtifact bool
	for _, f := range n.Files {
		if f.Source == "/tmp/jbpm-custom-node1.cli" && f.Target == "etc/jbpm-custom.cli" {
			gotArtifact = true
		}
	}
	if !gotArtifact {
		t.Errorf("rendered artifact not injected: %+v", n.Files)
	}
	if n.Files[0].Target != "Dockerfile" {
		t.Errorf("first file target = %q, want Dockerfile", n.Files[0].Target)
	}
}

func TestBuildDatabase(t *testing.T) {
	topo, err := Build(testConfig("node1"), artifactsFor("node1"))
	if err != nil {
		t.Fatal(err)
	}
	db := topo.Database
	if db.Alias != "postgresql11" {
		t.Errorf("Alias = %q", db.Alias)
	}
	want := []string{"-c", "max_prepared_transactions=10"}
	if strings.Join(db.Args, "|") != strings.Join(want, "|") {
		t.Errorf("Args = %v, want %v", db.Args, want)
	}
	if !filepath.IsAbs(db.InitDir) {
		t.Errorf("InitDir %q is not absolute", db.InitDir)
	}
}

func TestBuildMultiNodeAliasesAreUnique(t *testing.T) {
	topo, err := Build(testConfig("node1", "node2", "node3"), artifactsFor("node1", "node2", "node3"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	aliases := topo.Aliases()
	want := []string{"postgresql11", "kie-server", "kie-server-node2", "kie-server-node3"}
	if strings.Join(aliases, ",") != strings.Join(want, ",") {
		t.Errorf("Aliases() = %v, want %v", aliases, want)
	}
	if _, ok := topo.Node("node2"); !ok {
		t.Error("Node(node2) not found")
	}
}

func TestBuildMissingArtifact(t *testing.T) {
	if _, err := Build(testConfig("node1", "node2"), artifactsFor("node1")); err == nil {
		t.Fatal("expected error for node without artifact")
	}
}

func TestBuildBadDatabaseArgs(t *testing.T) {
	cfg := testConfig("node1")
	cfg.Database.Args = `-c "unterminated`
	if _, err := Build(cfg, artifactsFor("node1")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateDuplicateAlias(t *testing.T) {
	topo := &Topology{
		Database: DatabaseSpec{Alias: "kie-server"},
		Nodes: []NodeSpec{
			{Name: "node1", Alias: "kie-server", Port: 8080, StartupTimeout: time.Second},
		},
	}
	err := topo.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate network alias") {
		t.Fatalf("Validate() = %v, want duplicate alias error", err)
	}
}

func TestJavaOpts(t *testing.T) {
	s := config.DefaultConfig().Server
	s.TimerLocalCache = true
	s.TimerTx = false
	got := JavaOpts(s)
	if !strings.HasPrefix(got, "-Xms256m") {
		t.Errorf("JavaOpts() = %q, want base opts first", got)
	}
	if !strings.HasSuffix(got, "-Dorg.jbpm.ejb.timer.local.cache=true -Dorg.jbpm.ejb.timer.tx=false") {
		t.Errorf("JavaOpts() = %q", got)
	}
}

func TestSortedEnv(t *testing.T) {
	got := SortedEnv(map[string]string{"B": "2", "A": "1"})
	if strings.Join(got, ",") != "A=1,B=2" {
		t.Errorf("SortedEnv() = %v", got)
	}
}
