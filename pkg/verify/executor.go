// Package verify runs a repository's build tooling and turns its output
// into structured diagnostics.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"forge/pkg/logx"
)

// ExecOpts configures command execution.
type ExecOpts struct {
	// Dir is the working directory. Required.
	Dir string

	// Env contains environment overrides as "KEY=VALUE" strings, merged with
	// the parent environment. Optional.
	Env []string

	// Stdout and Stderr receive output. Both required; they may be the same
	// writer for combined output.
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs commands and returns exit codes.
type Executor interface {
	// Run executes argv (command plus arguments, never a shell string).
	// The exit code is valid even when err is nil and non-zero; a non-zero
	// exit is not an execution error. Context cancellation terminates the
	// process and returns context.Canceled or context.DeadlineExceeded.
	Run(ctx context.Context, argv []string, opts ExecOpts) (exitCode int, err error)

	// Name identifies the executor for logging.
	Name() string
}

// HostExecutor runs commands directly on the host.
type HostExecutor struct {
	logger *logx.Logger
}

// NewHostExecutor creates a host executor.
func NewHostExecutor() *HostExecutor {
	return &HostExecutor{logger: logx.NewLogger("host-executor")}
}

// Name returns the executor name.
func (h *HostExecutor) Name() string {
	return "host"
}

// Run executes a command on the host.
func (h *HostExecutor) Run(ctx context.Context, argv []string, opts ExecOpts) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("command cannot be empty")
	}
	if opts.Stdout == nil || opts.Stderr == nil {
		return -1, fmt.Errorf("stdout and stderr writers are required")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	// Setting cmd.Env to any value replaces the whole environment, which
	// would drop PATH. Only set it when there are overrides.
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	// Own process group so cancellation can kill the command and its children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h.logger.Debug("running: %s", strings.Join(argv, " "))

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.logger.Error("process did not exit within 5s after SIGKILL")
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return -1, context.Canceled
		}
		return -1, context.DeadlineExceeded

	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitCode(), nil
			}
			return -1, fmt.Errorf("failed to execute %s: %w", argv[0], err)
		}
		return 0, nil
	}
}

// MockCall records one Run invocation on a MockExecutor.
type MockCall struct {
	Argv []string
	Dir  string
}

// MockResult scripts one Run outcome for a MockExecutor.
type MockResult struct {
	Output   string
	ExitCode int
	Err      error
	Delay    time.Duration
}

// MockExecutor is a scriptable Executor for tests. Results are consumed in
// order; when the script is exhausted the last result repeats.
type MockExecutor struct {
	mu      sync.Mutex
	results []MockResult
	calls   []MockCall
}

// NewMockExecutor creates a mock returning the given results in order.
func NewMockExecutor(results ...MockResult) *MockExecutor {
	return &MockExecutor{results: results}
}

// Name returns the executor name.
func (m *MockExecutor) Name() string {
	return "mock"
}

// Run implements Executor with the scripted results.
func (m *MockExecutor) Run(ctx context.Context, argv []string, opts ExecOpts) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Argv: argv, Dir: opts.Dir})
	var res MockResult
	if len(m.results) > 0 {
		res = m.results[0]
		if len(m.results) > 1 {
			m.results = m.results[1:]
		}
	}
	m.mu.Unlock()

	if res.Delay > 0 {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return -1, context.Canceled
			}
			return -1, context.DeadlineExceeded
		case <-time.After(res.Delay):
		}
	}

	if opts.Stdout != nil && res.Output != "" {
		_, _ = io.WriteString(opts.Stdout, res.Output)
	}
	return res.ExitCode, res.Err
}

// Calls returns a copy of all recorded invocations.
func (m *MockExecutor) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}
