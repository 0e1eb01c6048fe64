package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"forge/pkg/logx"
)

// Result is the outcome of one verification run.
type Result struct {
	Tool        string
	Diagnostics []Diagnostic
	ExitCode    int
	TimedOut    bool
	Duration    time.Duration
	Output      string
}

// Errors returns the count of blocking diagnostics.
func (r *Result) Errors() int {
	return CountBySeverity(r.Diagnostics, SeverityError)
}

// HintOnly reports whether the run produced only hints.
func (r *Result) HintOnly() bool {
	return !r.TimedOut && HintOnly(r.Diagnostics)
}

// Verifier runs the repository's check tool and parses diagnostics.
type Verifier struct {
	executor Executor
	tool     Tool
	timeout  time.Duration
	logger   *logx.Logger
}

// New creates a verifier for the given tool. A zero timeout disables the
// time budget.
func New(executor Executor, tool Tool, timeout time.Duration) *Verifier {
	return &Verifier{
		executor: executor,
		tool:     tool,
		timeout:  timeout,
		logger:   logx.NewLogger("verify"),
	}
}

// Tool returns the configured tool name.
func (v *Verifier) Tool() string {
	return v.tool.Name
}

// Check runs the tool against dir and returns sorted diagnostics. The
// worktree at dir must already reflect the checkpoint under verification.
// Timeouts and unparsable output are folded into the result rather than
// returned as errors; the error return covers only subprocess launch
// failures and caller cancellation.
func (v *Verifier) Check(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()
	res := &Result{Tool: v.tool.Name}

	if len(v.tool.Commands) == 0 {
		res.Duration = time.Since(start)
		return res, nil
	}

	runCtx := ctx
	if v.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	var combined bytes.Buffer
	for _, argv := range v.tool.Commands {
		exitCode, err := v.executor.Run(runCtx, argv, ExecOpts{
			Dir:    dir,
			Stdout: &combined,
			Stderr: &combined,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				res.TimedOut = true
				res.ExitCode = -1
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, logx.Wrap(err, fmt.Sprintf("running %v", argv))
		}
		res.ExitCode = exitCode
		if exitCode != 0 {
			break
		}
	}

	res.Output = combined.String()
	res.Diagnostics = ParseOutput(res.Output, v.logger)
	res.Duration = time.Since(start)

	if res.TimedOut {
		// A timeout blocks acceptance like an error would.
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s check exceeded %s time budget", v.tool.Name, v.timeout),
		})
		SortDiagnostics(res.Diagnostics)
		v.logger.Warn("check timed out after %s", v.timeout)
		return res, nil
	}

	if res.ExitCode != 0 && res.Errors() == 0 {
		// The tool failed but nothing in the output parsed as an error.
		v.logger.Warn("parse-warning: exit code %d with no parsed error diagnostics", res.ExitCode)
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s exited with code %d (no diagnostics parsed)", v.tool.Name, res.ExitCode),
		})
		SortDiagnostics(res.Diagnostics)
	}

	v.logger.Debug("check finished: tool=%s exit=%d diags=%d errors=%d in %s",
		v.tool.Name, res.ExitCode, len(res.Diagnostics), res.Errors(), res.Duration)
	return res, nil
}
