package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/spotdl-api/pkg/runner"
	"github.com/psantana5/spotdl-api/pkg/spotdl"
	"github.com/psantana5/spotdl-api/pkg/staging"
)

// Class groups failures by who caused them
type Class string

const (
	ClassInvocation Class = "invocation" // tool missing or could not start
	ClassTool       Class = "tool"       // tool exited non-zero
	ClassTimeout    Class = "timeout"    // tool killed at its time limit
	ClassArtifact   Class = "artifact"   // tool succeeded but left nothing usable
	ClassInternal   Class = "internal"   // fault inside the service
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrClosed         = errors.New("executor is shutting down")
	ErrNotCompleted   = errors.New("job not completed")
	ErrResultMissing  = errors.New("result file missing")
)

// Failure is a classified terminal error. Msg is what the job record and
// API clients see; Err keeps the cause for logs.
type Failure struct {
	Class Class
	Msg   string
	Err   error
}

func (f *Failure) Error() string {
	return f.Msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ClassOf returns the class of err, ClassInternal when unclassified
func ClassOf(err error) Class {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return ClassInternal
}

// runFailure classifies a runner error
func runFailure(inv runner.Invocation, err error) *Failure {
	switch {
	case errors.Is(err, runner.ErrStart):
		return &Failure{Class: ClassInvocation, Msg: "internal error: acquisition tool could not be started", Err: err}
	case errors.Is(err, runner.ErrTimeout):
		return &Failure{Class: ClassTimeout, Msg: fmt.Sprintf("acquisition tool timed out after %s", inv.Timeout), Err: err}
	case errors.Is(err, context.Canceled):
		return &Failure{Class: ClassInternal, Msg: "canceled: server shutting down", Err: err}
	}
	return &Failure{Class: ClassInternal, Msg: "internal error: " + err.Error(), Err: err}
}

// exitFailure reports a non-zero exit with the tool's stderr verbatim
func exitFailure(res *runner.Result) *Failure {
	msg := res.Stderr
	if msg == "" {
		msg = fmt.Sprintf("acquisition tool exited with status %d", res.ExitCode)
	}
	return &Failure{
		Class: ClassTool,
		Msg:   msg,
		Err:   fmt.Errorf("exit code %d (%s)", res.ExitCode, res.ExitReason),
	}
}

func artifactFailure(err error) *Failure {
	return &Failure{Class: ClassArtifact, Msg: err.Error(), Err: err}
}

func internalFailure(format string, args ...any) *Failure {
	err := fmt.Errorf(format, args...)
	return &Failure{Class: ClassInternal, Msg: "internal error: " + err.Error(), Err: err}
}

// isArtifactErr reports errors that mean the tool left no usable output
func isArtifactErr(err error) bool {
	return errors.Is(err, staging.ErrNoArtifact) || errors.Is(err, spotdl.ErrNoURL)
}
