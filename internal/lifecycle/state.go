package lifecycle

import "fmt"

// State is the lifecycle state of a harness run.
type State string

const (
	StateUnstarted   State = "UNSTARTED"
	StateStarting    State = "STARTING"
	StateReady       State = "READY"
	StateExercising  State = "EXERCISING"
	StateTearingDown State = "TEARING_DOWN"
	StateStopped     State = "STOPPED"
	StateFailed      State = "FAILED"
)

// validTransitions maps each state to the states it may move to.
var validTransitions = map[State][]State{
	StateUnstarted:   {StateStarting, StateTearingDown},
	StateStarting:    {StateReady, StateFailed},
	StateReady:       {StateExercising, StateTearingDown},
	StateExercising:  {StateReady, StateFailed, StateTearingDown},
	StateFailed:      {StateTearingDown},
	StateTearingDown: {StateStopped},
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition from %s to %s", e.From, e.To)
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s State) bool {
	return len(validTransitions[s]) == 0
}
