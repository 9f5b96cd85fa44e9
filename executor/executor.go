package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"texengine/config"

	logrus "github.com/sirupsen/logrus"
)

const (
	// captured stdout/stderr beyond this keeps only the tail
	maxCapturedBytes = 4 * 1024 * 1024
	// how long to wait for a killed process to be reaped
	killGrace = 2 * time.Second
)

// ProcessRunner runs toolchain binaries directly on the host.
type ProcessRunner struct {
	pollInterval time.Duration
	isolate      bool
	logger       *logrus.Logger
}

// NewProcessRunner builds a runner from the startup configuration. Process-group
// isolation is skipped when the sandbox probe found a constrained environment.
func NewProcessRunner(cfg *config.Config, logger *logrus.Logger) *ProcessRunner {
	return &ProcessRunner{
		pollInterval: cfg.PollInterval,
		isolate:      !cfg.SandboxDisabled,
		logger:       logger,
	}
}

// Run starts the command and polls it every poll interval until it exits or
// its timeout elapses, in which case the process (group) is killed.
func (r *ProcessRunner) Run(ctx context.Context, c Command) (*ProcessResult, error) {
	cmd := exec.Command(c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(cmd.Environ(), c.Env...)
	cmd.WaitDelay = killGrace

	stdout := &tailBuffer{max: maxCapturedBytes}
	stderr := &tailBuffer{max: maxCapturedBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if r.isolate {
		setProcessGroup(cmd)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, c.Program, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return r.finish(c, stdout, stderr, start, err)
		case <-ctx.Done():
			res := r.terminate(c, cmd, done, stdout, stderr, start)
			return res, fmt.Errorf("%s interrupted: %w", c.Program, ctx.Err())
		case <-ticker.C:
			if c.Timeout > 0 && time.Since(start) > c.Timeout {
				res := r.terminate(c, cmd, done, stdout, stderr, start)
				return res, fmt.Errorf("%w: %s after %v", ErrTimedOut, c.Program, c.Timeout)
			}
		}
	}
}

func (r *ProcessRunner) finish(c Command, stdout, stderr *tailBuffer, start time.Time, err error) (*ProcessResult, error) {
	res := &ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay):
			// exited cleanly, but a leftover child held the output pipes open
		default:
			return res, fmt.Errorf("waiting for %s: %w", c.Program, err)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"tool":      c.Program,
		"exit_code": res.ExitCode,
		"duration":  res.Duration,
	}).Debug("Process finished")
	return res, nil
}

func (r *ProcessRunner) terminate(c Command, cmd *exec.Cmd, done <-chan error, stdout, stderr *tailBuffer, start time.Time) *ProcessResult {
	var killErr error
	if r.isolate {
		killErr = killProcessGroup(cmd)
	} else if cmd.Process != nil {
		killErr = cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(killGrace):
		r.logger.WithFields(logrus.Fields{
			"tool": c.Program,
			"pid":  cmd.Process.Pid,
		}).Warn("Process did not exit after kill, it may be orphaned")
	}

	if killErr != nil {
		r.logger.WithFields(logrus.Fields{
			"tool":  c.Program,
			"error": killErr,
		}).Warn("Failed to kill timed out process")
	}

	res := &ProcessResult{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: true,
	}
	r.logger.WithFields(logrus.Fields{
		"tool":     c.Program,
		"duration": res.Duration,
		"timeout":  c.Timeout,
	}).Warn("Process timed out, terminated")
	return res
}

// tailBuffer is a goroutine-safe writer that keeps at most the last max bytes.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if b.max > 0 && len(b.buf) > 2*b.max {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.max:]...)
		b.dropped = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped {
		return "[... output truncated ...]\n" + string(b.buf)
	}
	return string(b.buf)
}
