package executive

import "fmt"

// State names the phases of one step's attempt loop.
type State string

// State constants - single source of truth for state names.
const (
	StatePlanning   State = "PLANNING"
	StateGathering  State = "GATHERING"
	StateGenerating State = "GENERATING"
	StateVerifying  State = "VERIFYING"
	StateAccepted   State = "ACCEPTED"
	StateRetrying   State = "RETRYING"
	StateAborted    State = "ABORTED"
)

// Transitions is the canonical transition map. Tests and diagrams must
// match it exactly.
var Transitions = map[State][]State{
	// PLANNING produces steps, then context gathering starts, or the plan fails outright.
	StatePlanning: {StateGathering, StateAborted},

	// GATHERING assembles the bundle then requests generation.
	StateGathering: {StateGenerating, StateAborted},

	// GENERATING can produce a patch to verify, consume an attempt and retry, or exhaust the budget.
	StateGenerating: {StateVerifying, StateRetrying, StateAborted},

	// VERIFYING accepts on zero errors, retries on errors, aborts on fatal failure.
	StateVerifying: {StateAccepted, StateRetrying, StateAborted},

	// RETRYING re-gathers with debug context.
	StateRetrying: {StateGathering, StateAborted},

	// ACCEPTED moves to the next step's gathering, or ends the session.
	StateAccepted: {StateGathering},

	// ABORTED is terminal.
	StateAborted: {},
}

// IsValidTransition reports whether from can move to to.
func IsValidTransition(from, to State) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStates returns every state in the machine.
func ValidStates() []State {
	return []State{
		StatePlanning, StateGathering, StateGenerating, StateVerifying,
		StateAccepted, StateRetrying, StateAborted,
	}
}

// transition validates and applies a state change on the session.
func (s *Session) transition(to State) error {
	if !IsValidTransition(s.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", s.state, to)
	}
	s.logger.Debug("state %s -> %s", s.state, to)
	s.state = to
	return nil
}
