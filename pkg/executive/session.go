// Package executive drives the gather-generate-verify-checkpoint loop for
// a goal: planning steps, bounding retries, and deciding accept, retry, or
// abort from verification diagnostics.
package executive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forge/pkg/checkpoint"
	"forge/pkg/config"
	"forge/pkg/gather"
	"forge/pkg/history"
	"forge/pkg/llm"
	"forge/pkg/logx"
	"forge/pkg/metrics"
	"forge/pkg/persistence"
	"forge/pkg/repoindex"
	"forge/pkg/verify"
)

// Options wires a session. Index, History, Gatherer, Generator, Verifier,
// and Checkpoints are required; Store, Metrics, Tracker, and Planner are
// optional.
type Options struct {
	Index       *repoindex.Index
	History     *history.Log
	Gatherer    *gather.Gatherer
	Generator   *llm.Generator
	Verifier    *verify.Verifier
	Checkpoints *checkpoint.Manager
	Store       *persistence.Store
	Metrics     *metrics.Recorder
	Tracker     *llm.CostTracker
	Planner     Planner

	MaxTries          int
	BundleTokenBudget int
	GenerateTimeout   time.Duration
}

// Session holds all state for one executive run. Nothing is shared between
// sessions; two sessions on different repositories are fully independent.
type Session struct {
	id          string
	state       State
	index       *repoindex.Index
	history     *history.Log
	gatherer    *gather.Gatherer
	generator   *llm.Generator
	verifier    *verify.Verifier
	checkpoints *checkpoint.Manager
	store       *persistence.Store
	metrics     *metrics.Recorder
	tracker     *llm.CostTracker
	planner     Planner

	maxTries        int
	bundleBudget    int
	generateTimeout time.Duration

	lastGood checkpoint.ID
	logger   *logx.Logger
}

// NewSession validates options and builds a session.
func NewSession(opts Options) (*Session, error) {
	if opts.Index == nil || opts.History == nil || opts.Gatherer == nil ||
		opts.Generator == nil || opts.Verifier == nil || opts.Checkpoints == nil {
		return nil, fmt.Errorf("index, history, gatherer, generator, verifier, and checkpoints are all required")
	}
	if opts.Planner == nil {
		opts.Planner = SingleStepPlanner{}
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = config.DefaultMaxTries
	}
	if opts.BundleTokenBudget <= 0 {
		opts.BundleTokenBudget = config.DefaultBundleTokenBudget
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = config.DefaultGenerateTimeout
	}

	return &Session{
		id:              uuid.New().String(),
		state:           StatePlanning,
		index:           opts.Index,
		history:         opts.History,
		gatherer:        opts.Gatherer,
		generator:       opts.Generator,
		verifier:        opts.Verifier,
		checkpoints:     opts.Checkpoints,
		store:           opts.Store,
		metrics:         opts.Metrics,
		tracker:         opts.Tracker,
		planner:         opts.Planner,
		maxTries:        opts.MaxTries,
		bundleBudget:    opts.BundleTokenBudget,
		generateTimeout: opts.GenerateTimeout,
		logger:          logx.NewLogger("executive"),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Run executes the full loop for goal. The returned report is always
// populated, including on abort; the error describes why a session did not
// fully accept.
func (s *Session) Run(ctx context.Context, goal string) (*SessionReport, error) {
	report := &SessionReport{SessionID: s.id, Goal: goal, Outcome: "aborted"}

	s.appendHistory(history.KindCommand, map[string]any{"goal": goal})
	if s.store != nil {
		if err := s.store.StartSession(s.id, goal); err != nil {
			s.logger.Warn("could not record session start: %v", err)
		}
	}
	defer s.finalize(report)

	head, err := s.checkpoints.Head()
	if err != nil {
		return report, s.abortSession(report, err)
	}
	s.lastGood = head

	steps, err := s.planner.Plan(ctx, goal)
	if err != nil {
		_ = s.transition(StateAborted)
		return report, fmt.Errorf("planning failed: %w", err)
	}

	for _, step := range steps {
		stepReport, err := s.runStep(ctx, step)
		report.Steps = append(report.Steps, stepReport)

		if err != nil {
			if checkpoint.IsCheckpointError(err) {
				return report, s.abortSession(report, err)
			}
			if errors.Is(err, ErrStepAborted) {
				// The step is lost; previously accepted steps stand.
				return report, err
			}
			return report, err
		}
	}

	report.Outcome = "accepted"
	return report, nil
}

// runStep runs the bounded attempt loop for one step.
func (s *Session) runStep(ctx context.Context, step Step) (StepReport, error) {
	stepReport := StepReport{Step: step, Outcome: "aborted"}

	preStep, err := s.checkpoints.Head()
	if err != nil {
		return stepReport, err
	}

	var debug *gather.DebugContext
	for attempt := 1; attempt <= s.maxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return stepReport, err
		}
		if err := s.transition(StateGathering); err != nil {
			return stepReport, err
		}

		// Pick up external edits before assembling context.
		if err := s.index.SyncDirty(ctx); err != nil {
			s.logger.Warn("index resync failed, gathering from last known state: %v", err)
		}

		bundle, err := s.gatherer.Gather(s.index, s.history, step.Goal, s.bundleBudget, debug)
		if err != nil {
			s.recordAttempt(&stepReport, AttemptReport{Attempt: attempt, Outcome: "generation-failed"}, step)
			s.logger.Warn("gather failed on attempt %d: %v", attempt, err)
			if err := s.transition(StateGenerating); err != nil {
				return stepReport, err
			}
			if err := s.transition(StateRetrying); err != nil {
				return stepReport, err
			}
			continue
		}

		if err := s.transition(StateGenerating); err != nil {
			return stepReport, err
		}

		genRes := runAwaitable(ctx, s.generateTimeout, func(runCtx context.Context) (*llm.Patch, error) {
			return s.generator.Generate(runCtx, step.Goal, bundle.Render())
		})
		if genRes.Outcome != OutcomeSuccess {
			if ctx.Err() != nil {
				return stepReport, ctx.Err()
			}
			outcome := "generation-failed"
			if genRes.Outcome == OutcomeTimedOut {
				outcome = "timed-out"
			}
			genErr := &GenerationError{Attempt: attempt, Err: genRes.Err}
			s.logger.Warn("%v", genErr)
			s.observeGenerationFailure(genRes.Err)
			s.recordAttempt(&stepReport, AttemptReport{Attempt: attempt, Outcome: outcome}, step)
			if err := s.transition(StateRetrying); err != nil {
				return stepReport, err
			}
			continue
		}
		patch := genRes.Value

		touched, err := patch.Apply(s.index.Root())
		if err != nil {
			// Clear the partially applied patch before retrying.
			if revertErr := s.checkpoints.Revert(preStep); revertErr != nil {
				return stepReport, revertErr
			}
			s.logger.Warn("patch apply failed on attempt %d: %v", attempt, err)
			s.recordAttempt(&stepReport, AttemptReport{Attempt: attempt, Outcome: "generation-failed", PatchSummary: patch.Summary}, step)
			if err := s.transition(StateVerifying); err != nil {
				return stepReport, err
			}
			if err := s.transition(StateRetrying); err != nil {
				return stepReport, err
			}
			continue
		}

		cpID, err := s.checkpoints.Commit(fmt.Sprintf("step %d attempt %d: %s", step.Number, attempt, patch.Summary))
		if err != nil {
			return stepReport, err
		}

		if err := s.transition(StateVerifying); err != nil {
			return stepReport, err
		}

		result, err := s.verifier.Check(ctx, s.index.Root())
		if err != nil {
			if ctx.Err() != nil {
				return stepReport, ctx.Err()
			}
			// Tool launch failure. Revert and spend the attempt.
			if revertErr := s.checkpoints.Revert(preStep); revertErr != nil {
				return stepReport, revertErr
			}
			s.logger.Warn("verifier failed to run on attempt %d: %v", attempt, err)
			s.recordAttempt(&stepReport, AttemptReport{Attempt: attempt, Outcome: "retrying", PatchSummary: patch.Summary, CheckpointID: cpID}, step)
			if err := s.transition(StateRetrying); err != nil {
				return stepReport, err
			}
			continue
		}
		s.observeVerify(result)

		if !verify.HasErrors(result.Diagnostics) {
			if result.HintOnly() {
				cpID, result, touched = s.quickFix(ctx, step, cpID, result, touched)
			}

			attemptReport := AttemptReport{
				Attempt:      attempt,
				Outcome:      "accepted",
				PatchSummary: patch.Summary,
				Diagnostics:  result.Diagnostics,
				CheckpointID: cpID,
				Paths:        touched,
			}
			s.recordAttempt(&stepReport, attemptReport, step)

			if err := s.index.Update(ctx, touched); err != nil {
				s.logger.Warn("index update after accept failed: %v", err)
			}
			if err := s.index.Save(); err != nil {
				s.logger.Warn("index save failed: %v", err)
			}

			s.lastGood = cpID
			stepReport.Outcome = "accepted"
			if err := s.transition(StateAccepted); err != nil {
				return stepReport, err
			}
			return stepReport, nil
		}

		// Blocking errors: roll back and feed the evidence into the next gather.
		if err := s.checkpoints.Revert(preStep); err != nil {
			return stepReport, err
		}
		debug = &gather.DebugContext{
			Attempt:      attempt,
			Diagnostics:  formatDiagnostics(result.Diagnostics),
			PatchSummary: patch.Summary,
			PatchText:    patch.Render(),
		}
		s.appendHistory(history.KindThought, map[string]any{
			"step":    step.Number,
			"attempt": attempt,
			"action":  "retry",
			"errors":  result.Errors(),
		})
		s.recordAttempt(&stepReport, AttemptReport{
			Attempt:      attempt,
			Outcome:      "retrying",
			PatchSummary: patch.Summary,
			Diagnostics:  result.Diagnostics,
			CheckpointID: cpID,
		}, step)
		if err := s.transition(StateRetrying); err != nil {
			return stepReport, err
		}
	}

	// Attempts exhausted. The repository is already back at the pre-step
	// checkpoint from the last revert.
	if err := s.checkpoints.Revert(preStep); err != nil {
		return stepReport, err
	}
	if err := s.transition(StateAborted); err != nil {
		return stepReport, err
	}
	s.logger.Info("step %d aborted after %d attempts", step.Number, s.maxTries)
	return stepReport, ErrStepAborted
}

// quickFix runs the single automatic fix-and-recheck round allowed for a
// hint-only result. A fix that introduces errors is rolled back and the
// original result stands.
func (s *Session) quickFix(ctx context.Context, step Step, cpID checkpoint.ID, result *verify.Result, touched []string) (checkpoint.ID, *verify.Result, []string) {
	s.logger.Debug("hint-only result, trying one quick-fix round")

	debug := &gather.DebugContext{
		Diagnostics:  formatDiagnostics(result.Diagnostics),
		PatchSummary: "previous change was accepted but left hints",
	}
	bundle, err := s.gatherer.Gather(s.index, s.history, "Resolve the remaining hints without changing behavior: "+step.Goal, s.bundleBudget, debug)
	if err != nil {
		return cpID, result, touched
	}

	genRes := runAwaitable(ctx, s.generateTimeout, func(runCtx context.Context) (*llm.Patch, error) {
		return s.generator.Generate(runCtx, step.Goal, bundle.Render())
	})
	if genRes.Outcome != OutcomeSuccess {
		return cpID, result, touched
	}

	fixTouched, err := genRes.Value.Apply(s.index.Root())
	if err != nil {
		if revertErr := s.checkpoints.Revert(cpID); revertErr != nil {
			s.logger.Error("quick-fix rollback failed: %v", revertErr)
		}
		return cpID, result, touched
	}

	fixCp, err := s.checkpoints.Commit(fmt.Sprintf("step %d quick fix: %s", step.Number, genRes.Value.Summary))
	if err != nil {
		s.logger.Warn("quick-fix checkpoint failed: %v", err)
		if revertErr := s.checkpoints.Revert(cpID); revertErr != nil {
			s.logger.Error("quick-fix rollback failed: %v", revertErr)
		}
		return cpID, result, touched
	}

	fixResult, err := s.verifier.Check(ctx, s.index.Root())
	if err != nil || verify.HasErrors(fixResult.Diagnostics) {
		if revertErr := s.checkpoints.Revert(cpID); revertErr != nil {
			s.logger.Error("quick-fix rollback failed: %v", revertErr)
			return cpID, result, touched
		}
		s.logger.Debug("quick fix rejected, keeping original change")
		return cpID, result, touched
	}
	s.observeVerify(fixResult)

	merged := append(append([]string{}, touched...), fixTouched...)
	return fixCp, fixResult, merged
}

// abortSession handles fatal checkpoint corruption: best-effort restore to
// the last committed good state, then surface the session abort.
func (s *Session) abortSession(report *SessionReport, cause error) error {
	s.logger.Error("fatal: %v", cause)
	if s.lastGood != "" {
		if err := s.checkpoints.Revert(s.lastGood); err != nil {
			s.logger.Error("could not restore last good checkpoint: %v", err)
		}
	}
	s.state = StateAborted
	report.Outcome = "aborted"
	return fmt.Errorf("%w: %v", ErrSessionAborted, cause)
}

func (s *Session) recordAttempt(stepReport *StepReport, a AttemptReport, step Step) {
	stepReport.Attempts = append(stepReport.Attempts, a)

	if s.metrics != nil {
		s.metrics.ObserveAttempt(a.Outcome)
	}
	s.appendHistory(history.KindResult, map[string]any{
		"step":    step.Number,
		"attempt": a.Attempt,
		"outcome": a.Outcome,
		"paths":   a.Paths,
	})
	if s.store != nil {
		rec := &persistence.IterationRecord{
			SessionID:       s.id,
			Step:            step.Number,
			Attempt:         a.Attempt,
			Outcome:         a.Outcome,
			CheckpointID:    string(a.CheckpointID),
			DiagnosticCount: len(a.Diagnostics),
			ErrorCount:      verify.CountBySeverity(a.Diagnostics, verify.SeverityError),
		}
		if err := s.store.RecordIteration(rec); err != nil {
			s.logger.Warn("could not record iteration: %v", err)
		}
	}
}

func (s *Session) finalize(report *SessionReport) {
	if s.tracker != nil {
		report.InputTokens, report.OutputTokens = s.tracker.Totals()
		report.CostUSD = s.tracker.CostUSD()
		if s.metrics != nil {
			s.metrics.ObserveUsage(report.InputTokens, report.OutputTokens, report.CostUSD)
		}
	}
	if s.store != nil {
		if err := s.store.EndSession(s.id, report.Outcome, report.InputTokens, report.OutputTokens, report.CostUSD); err != nil {
			s.logger.Warn("could not record session end: %v", err)
		}
	}
	s.appendHistory(history.KindResult, map[string]any{
		"session": s.id,
		"outcome": report.Outcome,
	})
}

func (s *Session) appendHistory(kind history.Kind, payload any) {
	entry, err := history.NewEntry(kind, payload)
	if err != nil {
		s.logger.Warn("could not build history entry: %v", err)
		return
	}
	if err := s.history.Append(entry); err != nil {
		s.logger.Warn("could not append history entry: %v", err)
	}
}

func (s *Session) observeGenerationFailure(err error) {
	if s.metrics == nil {
		return
	}
	var classified *llm.Error
	if errors.As(err, &classified) {
		s.metrics.ObserveGenerationFailure(classified.Type.String())
		return
	}
	s.metrics.ObserveGenerationFailure("unknown")
}

func (s *Session) observeVerify(result *verify.Result) {
	if s.metrics != nil {
		s.metrics.ObserveVerify(result.Tool, result.Duration)
	}
}

func formatDiagnostics(diags []verify.Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for i := range diags {
		d := &diags[i]
		out = append(out, fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message))
	}
	return out
}
