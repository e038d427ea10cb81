//go:build e2e

package scenarios

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesamples/timerharness/internal/render"
	"github.com/kiesamples/timerharness/internal/scenario"
)

func TestTimersUseRenderedPartition(t *testing.T) {
	env := suite.Env(t)
	env.Provision()

	exp, ok := scenario.FindExpectation("BoundaryFailSubprocess")
	require.True(t, ok)

	ctx := env.Context()
	client := suite.Session.Client
	containerID := env.Driver.Deployment().ContainerID()

	env.Step("Starting %s", exp.ProcessID)
	id, err := client.StartProcess(ctx, containerID, exp.ProcessID)
	require.NoError(t, err)
	require.Positive(t, id)

	env.Step("Waiting for %d timers", exp.TimersBeforeSignal)
	n, err := suite.Session.Verifier.WaitForCount(ctx, exp.TimersBeforeSignal,
		suite.Config.Scenario.PollInterval(), suite.Config.Scenario.SecondWait())
	require.NoError(t, err)
	require.Equal(t, exp.TimersBeforeSignal, n)

	env.Step("Reading partition names")
	parts, err := suite.Session.Verifier.PartitionNames(ctx)
	require.NoError(t, err)
	want := render.PartitionName(suite.Config.Server.Nodes[0], suite.Config.Server.Cluster)
	assert.Equal(t, []string{want}, parts)
	env.Result("partitions: %v", parts)

	env.Step("Signalling and waiting out the after-signal interval")
	require.NoError(t, client.Signal(ctx, containerID, suite.Config.Scenario.Signal))
	select {
	case <-ctx.Done():
		t.Fatal(ctx.Err())
	case <-time.After(suite.Config.Scenario.SecondWait()):
	}
	n, err = suite.Session.Verifier.CountTimers(ctx)
	require.NoError(t, err)
	require.Equal(t, exp.TimersAfterSignal, n)
}
