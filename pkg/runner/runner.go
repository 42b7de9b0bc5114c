// Package runner executes the acquisition tool as a child process.
//
// Output streams are captured into buffers. The child runs in its own
// process group so that a timeout kills the tool together with any helper
// processes it spawned.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

var (
	// ErrStart means the process could not be started (missing binary, permissions).
	ErrStart = errors.New("failed to start process")
	// ErrTimeout means the process exceeded its wall-clock limit and was killed.
	ErrTimeout = errors.New("process timed out")
)

// ExitReason describes why a process terminated
type ExitReason string

const (
	ExitReasonSuccess  ExitReason = "success"  // Exit code 0
	ExitReasonError    ExitReason = "error"    // Exit code != 0
	ExitReasonSignal   ExitReason = "signal"   // Killed by signal
	ExitReasonTimeout  ExitReason = "timeout"  // Killed after the time limit
	ExitReasonCanceled ExitReason = "canceled" // Caller context canceled
	ExitReasonUnknown  ExitReason = "unknown"
)

// Invocation is one command line to run
type Invocation struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
}

func (inv Invocation) String() string {
	return fmt.Sprintf("%s %v", inv.Name, inv.Args)
}

// Result is the captured outcome of a finished process
type Result struct {
	PID        int
	ExitCode   int
	ExitReason ExitReason
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// Runner runs invocations to completion
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner runs invocations with os/exec
type ExecRunner struct {
	// KillGrace is how long a process group gets between SIGTERM and
	// SIGKILL once the run is canceled or times out.
	KillGrace time.Duration
}

// NewExecRunner returns a runner with default settings
func NewExecRunner() *ExecRunner {
	return &ExecRunner{KillGrace: 5 * time.Second}
}

// Run starts the process and waits for it. A non-zero exit is reported in
// the Result with a nil error; errors are reserved for start failures,
// timeouts and caller cancellation.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	var escalate atomic.Pointer[time.Timer]
	cmd.Cancel = func() error {
		escalate.Store(time.AfterFunc(r.KillGrace, func() { killProcessGroup(cmd) }))
		return terminateProcessGroup(cmd)
	}
	// pipes held by stragglers are released shortly after the SIGKILL
	cmd.WaitDelay = r.KillGrace + time.Second

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStart, inv.Name, err)
	}

	err := cmd.Wait()
	if t := escalate.Load(); t != nil {
		t.Stop()
		// reap group members that outlived the leader
		killProcessGroup(cmd)
	}
	result := &Result{
		PID:      cmd.Process.Pid,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if ctx.Err() != nil {
			result.ExitReason = ExitReasonCanceled
			return result, fmt.Errorf("%s: %w", inv.Name, ctx.Err())
		}
		result.ExitReason = ExitReasonTimeout
		return result, fmt.Errorf("%w after %s", ErrTimeout, inv.Timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitReason = DetermineExitReason(result.ExitCode, status)
			} else {
				result.ExitReason = ExitReasonError
			}
			return result, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			// exited cleanly but a leftover child held the output pipes
			result.ExitReason = ExitReasonSuccess
			return result, nil
		}
		result.ExitCode = -1
		result.ExitReason = ExitReasonUnknown
		return result, fmt.Errorf("wait %s: %w", inv.Name, err)
	}

	result.ExitReason = ExitReasonSuccess
	return result, nil
}

// DetermineExitReason analyzes process exit to determine the reason
func DetermineExitReason(exitCode int, waitStatus syscall.WaitStatus) ExitReason {
	if waitStatus.Exited() {
		if exitCode == 0 {
			return ExitReasonSuccess
		}
		return ExitReasonError
	}
	if waitStatus.Signaled() {
		return ExitReasonSignal
	}
	return ExitReasonUnknown
}
