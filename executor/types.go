package executor

import (
	"context"
	"errors"
	"time"

	"texengine/model"
)

var (
	ErrSpawnFailed = errors.New("process could not be started")
	ErrTimedOut    = errors.New("process exceeded its time budget")
	ErrBusy        = errors.New("a compilation is already running")
	ErrQueueClosed = errors.New("compilation queue is shut down")
)

// Command describes one external tool invocation. Args are passed as a vector,
// never through a shell.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// ProcessResult is what a Runner captured from a finished or killed process.
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

func (r *ProcessResult) Success() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// Output joins stdout and stderr for diagnostics.
func (r *ProcessResult) Output() string {
	if r == nil {
		return ""
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes a single Command. A non-zero exit is reported in the result,
// not as an error; errors are ErrSpawnFailed or ErrTimedOut (with partial output).
type Runner interface {
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}

// Compiler is what the worker pool drives, one request at a time.
type Compiler interface {
	Compile(ctx context.Context, req model.CompileRequest) model.CompileResult
}
