// ABOUTME: Allow-listed command execution for the agent
// ABOUTME: Defines the Executor interface, its Command/Result types, and the allow-list

package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrCommandNotAllowed is returned for programs outside the allow-list.
var ErrCommandNotAllowed = errors.New("command not allowed")

// ErrOptionLike is returned for an operand that a program would parse as a flag.
var ErrOptionLike = errors.New("must not start with '-'")

// CheckOperand rejects a positional argument that starts with a dash.
func CheckOperand(name, value string) error {
	if strings.HasPrefix(value, "-") {
		return fmt.Errorf("%s %q %w", name, value, ErrOptionLike)
	}
	return nil
}

// DefaultTimeout bounds a command that does not set its own.
const DefaultTimeout = 30 * time.Second

// Command is one program invocation. Args are passed as argv, never through a shell.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a command. A failed command is a Result with
// Success false, not a Go error.
type Result struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Executor runs commands on behalf of agent handlers.
type Executor interface {
	Execute(ctx context.Context, cmd Command) Result
}

// ExecError describes a command that ran and exited non-zero.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, msg)
}

// AllowList is the set of program names an executor may run.
type AllowList map[string]struct{}

// DefaultAllowList permits the net-snmp tools and ping.
func DefaultAllowList() AllowList {
	return NewAllowList("snmpget", "snmpwalk", "snmpbulkget", "snmpbulkwalk", "snmpset", "ping")
}

// NewAllowList builds an allow-list from program names.
func NewAllowList(names ...string) AllowList {
	a := make(AllowList, len(names))
	for _, n := range names {
		a[n] = struct{}{}
	}
	return a
}

// Check rejects names outside the list. Paths are rejected even when their
// base name is allowed so a caller cannot pick the binary.
func (a AllowList) Check(name string) error {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, name)
	}
	if _, ok := a[name]; !ok {
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, name)
	}
	return nil
}

// Names returns the allowed programs in sorted order.
func (a AllowList) Names() []string {
	out := make([]string, 0, len(a))
	for n := range a {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// failure renders err as a failed Result.
func failure(err error) Result {
	r := Result{Success: false, Error: err.Error(), ExitCode: -1}
	var ee *ExecError
	if errors.As(err, &ee) {
		r.ExitCode = ee.ExitCode
	}
	return r
}

func timeoutOf(c Command) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
