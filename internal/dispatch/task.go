// ABOUTME: Pending task state and outcomes for dispatched agent commands.
// ABOUTME: A task resolves exactly once, by response, agent error, or timeout.

package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAgentNotConnected means no connection is registered for the requested agent id.
	ErrAgentNotConnected = errors.New("agent not connected")

	// ErrAgentNotAuthenticated means the agent's connection is registered but no longer authenticated.
	ErrAgentNotAuthenticated = errors.New("agent not authenticated")

	// ErrNoAgentAvailable means no live agent advertises the requested capability.
	ErrNoAgentAvailable = errors.New("no agent available")

	// ErrTimeout means the task received no reply within its timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrUnknownTask means the task id is neither pending nor awaiting collection.
	ErrUnknownTask = errors.New("unknown task")
)

// AgentError carries the error text an agent reported for a task.
type AgentError struct {
	AgentID string
	TaskID  string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Message)
}

// Outcome is the resolution of a task: a result map or an error.
type Outcome struct {
	Result map[string]any
	Err    error
}

// Task is a command that has been sent to an agent and not yet collected.
type Task struct {
	ID        string
	AgentID   string
	Command   string
	Params    map[string]any
	CreatedAt time.Time
	Timeout   time.Duration

	callback   func(Outcome)
	done       chan struct{}
	outcome    Outcome
	resolvedAt time.Time
}

// Done is closed when the task resolves.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the resolution. Only valid after Done is closed.
func (t *Task) Outcome() Outcome {
	return t.outcome
}

// SubmitOption configures a single submission.
type SubmitOption func(*Task)

// WithCallback registers f to run once when the task resolves. Callback
// tasks are not retained for Await after they resolve.
func WithCallback(f func(Outcome)) SubmitOption {
	return func(t *Task) { t.callback = f }
}

func outcomeLabel(o Outcome) string {
	var agentErr *AgentError
	switch {
	case o.Err == nil:
		return "success"
	case errors.Is(o.Err, ErrTimeout):
		return "timeout"
	case errors.As(o.Err, &agentErr):
		return "agent_error"
	default:
		return "error"
	}
}
