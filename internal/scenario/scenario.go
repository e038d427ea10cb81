// Package scenario drives the timer scenarios against a running server and
// checks the persisted timer count between steps.
package scenario

import (
	"fmt"

	"github.com/kiesamples/timerharness/internal/config"
	"github.com/kiesamples/timerharness/internal/kieclient"
)

// Step names used in assertion errors and logs.
const (
	StepProvision   = "provision"
	StepStart       = "start"
	StepFirstCount  = "count-before-signal"
	StepSignal      = "signal"
	StepSecondCount = "count-after-signal"
	StepDispose     = "dispose"
)

// Deployment is the unit provisioned before each scenario.
type Deployment struct {
	GroupID     string
	ArtifactID  string
	Version     string
	AliasSuffix string
}

// DeploymentFromConfig maps configuration onto a Deployment.
func DeploymentFromConfig(cfg config.DeploymentConfig) Deployment {
	return Deployment{
		GroupID:     cfg.GroupID,
		ArtifactID:  cfg.ArtifactID,
		Version:     cfg.Version,
		AliasSuffix: cfg.AliasSuffix,
	}
}

func (d Deployment) releaseID() kieclient.ReleaseID {
	return kieclient.ReleaseID{GroupID: d.GroupID, ArtifactID: d.ArtifactID, Version: d.Version}
}

// ContainerID is group:artifact:version.
func (d Deployment) ContainerID() string {
	return d.releaseID().String()
}

// Alias is the artifact id plus the alias suffix.
func (d Deployment) Alias() string {
	return d.ArtifactID + d.AliasSuffix
}

// Resource is the create-container request body.
func (d Deployment) Resource() kieclient.ContainerResource {
	return kieclient.ContainerResource{
		ContainerID: d.ContainerID(),
		ReleaseID:   d.releaseID(),
		Alias:       d.Alias(),
	}
}

// Expectation describes one scenario and the timer counts it must produce.
type Expectation struct {
	Name        string `json:"name"`
	ProcessID   string `json:"process_id"`
	Description string `json:"description"`
	// TimersBeforeSignal is the count expected once the instance has reached
	// its timer.
	TimersBeforeSignal int `json:"timers_before_signal"`
	// TimersAfterSignal is the count expected after the signal triggered the
	// failing script and its rollback.
	TimersAfterSignal int `json:"timers_after_signal"`
}

// DefaultExpectations returns the built-in scenarios.
func DefaultExpectations() []Expectation {
	return []Expectation{
		{
			Name:               "TimerFailSubprocess",
			ProcessID:          "timer-fail-subprocess",
			Description:        "subprocess with an intermediate timer and a script that throws",
			TimersBeforeSignal: 1,
			TimersAfterSignal:  1,
		},
		{
			Name:               "BoundaryFailSubprocess",
			ProcessID:          "boundary-subprocess",
			Description:        "subprocess with a boundary timer on a human task and a script that throws",
			TimersBeforeSignal: 1,
			TimersAfterSignal:  2,
		},
		{
			Name:               "BoundaryGatewaySubprocess",
			ProcessID:          "boundary-gateway-subprocess",
			Description:        "subprocess with a gateway diverging to a human task with a boundary timer and a script that throws",
			TimersBeforeSignal: 1,
			TimersAfterSignal:  1,
		},
	}
}

// FindExpectation returns the built-in scenario with the given name or
// process id.
func FindExpectation(key string) (Expectation, bool) {
	for _, e := range DefaultExpectations() {
		if e.Name == key || e.ProcessID == key {
			return e, true
		}
	}
	return Expectation{}, false
}

// AssertionError is a scenario check that did not hold.
type AssertionError struct {
	Scenario string
	Step     string
	Want     int64
	Got      int64
}

func (e *AssertionError) Error() string {
	if e.Step == StepStart {
		return fmt.Sprintf("%s: %s: process instance id %d is not positive", e.Scenario, e.Step, e.Got)
	}
	return fmt.Sprintf("%s: %s: want %d timers, got %d", e.Scenario, e.Step, e.Want, e.Got)
}
