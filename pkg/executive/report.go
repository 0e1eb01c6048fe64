package executive

import (
	"fmt"
	"strings"

	"forge/pkg/checkpoint"
	"forge/pkg/verify"
)

// AttemptReport captures one attempt within a step.
type AttemptReport struct {
	Attempt      int
	Outcome      string // "accepted", "retrying", "generation-failed", "timed-out", "aborted"
	PatchSummary string
	Diagnostics  []verify.Diagnostic
	CheckpointID checkpoint.ID
	Paths        []string
}

// StepReport captures one step's outcome and all of its attempts'
// diagnostic sets.
type StepReport struct {
	Step     Step
	Outcome  string // "accepted", "aborted"
	Attempts []AttemptReport
}

// SessionReport is the final account of a session.
type SessionReport struct {
	SessionID    string
	Goal         string
	Outcome      string // "accepted", "aborted"
	Steps        []StepReport
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Accepted reports whether every step was accepted.
func (r *SessionReport) Accepted() bool {
	return r.Outcome == "accepted"
}

// Summary renders a human-readable session summary.
func (r *SessionReport) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s: %s\n", r.SessionID, r.Outcome)
	fmt.Fprintf(&sb, "Goal: %s\n", r.Goal)
	for i := range r.Steps {
		step := &r.Steps[i]
		fmt.Fprintf(&sb, "  Step %d (%s): %s after %d attempt(s)\n",
			step.Step.Number, step.Step.Goal, step.Outcome, len(step.Attempts))
		for j := range step.Attempts {
			a := &step.Attempts[j]
			errs := verify.CountBySeverity(a.Diagnostics, verify.SeverityError)
			fmt.Fprintf(&sb, "    attempt %d: %s (%d diagnostics, %d errors)\n",
				a.Attempt, a.Outcome, len(a.Diagnostics), errs)
		}
	}
	fmt.Fprintf(&sb, "Usage: %d in / %d out tokens, $%.4f\n",
		r.InputTokens, r.OutputTokens, r.CostUSD)
	return sb.String()
}
