package analysis

import "fmt"

// State is a phase of the analysis state machine.
type State string

const (
	StateValidating              State = "validating"
	StateComputingGroupMetrics   State = "computing_group_metrics"
	StateComputingIntersectional State = "computing_intersectional"
	StateAssessing               State = "assessing"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

// StateError reports the state an analysis failed in. It unwraps to the
// cause, so errors.As still finds a *api.ValidationError.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("analysis failed while %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// tracker records the sequence of states visited.
type tracker struct {
	current State
	visited []string
}

func (t *tracker) enter(s State) {
	t.current = s
	t.visited = append(t.visited, string(s))
}

func (t *tracker) fail(err error) *StateError {
	at := t.current
	t.enter(StateFailed)
	return &StateError{State: at, Err: err}
}
