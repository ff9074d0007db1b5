// ABOUTME: Executor that runs allow-listed programs on the agent host via os/exec
// ABOUTME: The Runner seam lets tests substitute canned output

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Runner starts a program and returns its stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// OSRunner runs programs with os/exec.
type OSRunner struct{}

// Run executes name with args and no shell.
func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Local executes commands on the agent host.
type Local struct {
	allow  AllowList
	runner Runner
}

// NewLocal returns a Local executor restricted to allow.
func NewLocal(allow AllowList) *Local {
	return &Local{allow: allow, runner: OSRunner{}}
}

// NewLocalWithRunner returns a Local executor that delegates to runner.
func NewLocalWithRunner(allow AllowList, runner Runner) *Local {
	l := NewLocal(allow)
	l.runner = runner
	return l
}

// Execute runs cmd if it is allowed.
func (l *Local) Execute(ctx context.Context, cmd Command) Result {
	if err := l.allow.Check(cmd.Name); err != nil {
		return failure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOf(cmd))
	defer cancel()

	stdout, stderr, err := l.runner.Run(runCtx, cmd.Name, cmd.Args...)
	if err != nil {
		if runCtx.Err() != nil {
			return failure(fmt.Errorf("%s: %w", cmd.Name, runCtx.Err()))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return failure(&ExecError{Command: cmd.Name, ExitCode: exitErr.ExitCode(), Stderr: string(stderr)})
		}
		return failure(fmt.Errorf("%s: %w", cmd.Name, err))
	}

	return Result{Success: true, Output: string(stdout)}
}
