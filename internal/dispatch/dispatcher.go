// ABOUTME: Sends commands to agents and correlates their replies by task id.
// ABOUTME: Bridges synchronous callers to asynchronous replies with per-task timeouts.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
)

const (
	// DefaultTimeout applies when a caller passes a zero timeout.
	DefaultTimeout = 30 * time.Second

	// retention bounds how long a resolved task waits for Await before it is dropped.
	retention = 5 * time.Minute
)

// Metrics receives task lifecycle events.
type Metrics interface {
	TaskStarted(command string)
	TaskFinished(command, outcome string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) TaskStarted(string)                        {}
func (nopMetrics) TaskFinished(string, string, time.Duration) {}

// Dispatcher owns the pending-task table.
type Dispatcher struct {
	agents         *agent.Manager
	clock          clock.Clock
	metrics        Metrics
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	pending   map[string]*Task
	unclaimed map[string]*Task
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source for timeouts.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.defaultTimeout = t
		}
	}
}

// New creates a Dispatcher that routes through agents.
func New(agents *agent.Manager, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		agents:         agents,
		clock:          clock.Real(),
		metrics:        nopMetrics{},
		defaultTimeout: DefaultTimeout,
		logger:         logger.With("component", "dispatch"),
		pending:        make(map[string]*Task),
		unclaimed:      make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit sends command to the named agent and returns the new task id.
// Nothing is recorded if the agent is missing, unauthenticated, or the send fails.
func (d *Dispatcher) Submit(ctx context.Context, agentID, command string, params map[string]any, timeout time.Duration, opts ...SubmitOption) (string, error) {
	conn, ok := d.agents.GetAgent(agentID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotConnected, agentID)
	}
	if !conn.Authenticated() {
		return "", fmt.Errorf("%w: %s", ErrAgentNotAuthenticated, agentID)
	}
	return d.send(ctx, conn, command, params, timeout, opts)
}

// SubmitByCapability sends command to any live agent that advertised capability.
func (d *Dispatcher) SubmitByCapability(ctx context.Context, capability, command string, params map[string]any, timeout time.Duration, opts ...SubmitOption) (string, error) {
	conn, err := d.agents.FindByCapability(capability)
	if err != nil {
		return "", fmt.Errorf("%w: capability %q", ErrNoAgentAvailable, capability)
	}
	return d.send(ctx, conn, command, params, timeout, opts)
}

func (d *Dispatcher) send(ctx context.Context, conn *agent.Connection, command string, params map[string]any, timeout time.Duration, opts []SubmitOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	if params == nil {
		params = map[string]any{}
	}

	task := &Task{
		ID:        uuid.New().String(),
		AgentID:   conn.ID,
		Command:   command,
		Params:    params,
		CreatedAt: d.clock.Now(),
		Timeout:   timeout,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(task)
	}

	d.mu.Lock()
	d.pending[task.ID] = task
	d.mu.Unlock()

	err := conn.Send(&protocol.Command{TaskID: task.ID, Command: command, Params: params})
	if err != nil {
		d.mu.Lock()
		delete(d.pending, task.ID)
		d.mu.Unlock()
		return "", fmt.Errorf("sending %s to %s: %w", command, conn.ID, err)
	}

	d.metrics.TaskStarted(command)
	d.logger.Info("sent task",
		"task_id", task.ID,
		"agent_id", conn.ID,
		"command", command,
		"timeout", timeout,
	)

	go d.expire(task)
	return task.ID, nil
}

// expire resolves task with ErrTimeout once its timeout elapses.
func (d *Dispatcher) expire(task *Task) {
	select {
	case <-d.clock.After(task.Timeout):
		if d.resolve(task.ID, Outcome{Err: ErrTimeout}) {
			d.logger.Warn("task timed out",
				"task_id", task.ID,
				"agent_id", task.AgentID,
				"command", task.Command,
			)
		}
	case <-task.done:
	}
}

// resolve removes id from the pending table and records outcome. Only the
// first caller for a given id wins; later calls return false.
func (d *Dispatcher) resolve(id string, outcome Outcome) bool {
	now := d.clock.Now()

	d.mu.Lock()
	task, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.pending, id)
	task.outcome = outcome
	task.resolvedAt = now
	if task.callback == nil {
		d.unclaimed[id] = task
	}
	for uid, t := range d.unclaimed {
		if now.Sub(t.resolvedAt) > retention {
			delete(d.unclaimed, uid)
		}
	}
	d.metrics.TaskFinished(task.Command, outcomeLabel(outcome), now.Sub(task.CreatedAt))
	close(task.done)
	d.mu.Unlock()

	if task.callback != nil {
		task.callback(outcome)
	}
	return true
}

// Await blocks until the task resolves, timeout elapses, or ctx ends.
// If timeout elapses first the task is resolved as timed out and removed.
// A zero timeout waits for the task's own deadline.
func (d *Dispatcher) Await(ctx context.Context, taskID string, timeout time.Duration) (map[string]any, error) {
	d.mu.Lock()
	task, ok := d.pending[taskID]
	if !ok {
		task, ok = d.unclaimed[taskID]
	}
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		expired = d.clock.After(timeout)
	}

	select {
	case <-task.done:
	case <-expired:
		// Lose the race gracefully: if a reply resolved the task first, use it.
		d.resolve(taskID, Outcome{Err: ErrTimeout})
		<-task.done
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	d.mu.Lock()
	delete(d.unclaimed, taskID)
	d.mu.Unlock()

	out := task.Outcome()
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Result, nil
}

// Execute submits to agentID and waits for the reply.
func (d *Dispatcher) Execute(ctx context.Context, agentID, command string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	id, err := d.Submit(ctx, agentID, command, params, timeout)
	if err != nil {
		return nil, err
	}
	return d.Await(ctx, id, 0)
}

// ExecuteByCapability submits to any agent with capability and waits for the reply.
func (d *Dispatcher) ExecuteByCapability(ctx context.Context, capability, command string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	id, err := d.SubmitByCapability(ctx, capability, command, params, timeout)
	if err != nil {
		return nil, err
	}
	return d.Await(ctx, id, 0)
}

// OnResponse resolves the task named by a response or error message from agentID.
// Replies for unknown or already-resolved task ids are logged and dropped.
func (d *Dispatcher) OnResponse(agentID string, msg protocol.Message) {
	var (
		id      string
		outcome Outcome
	)
	switch m := msg.(type) {
	case *protocol.Response:
		id = m.CorrelationID()
		outcome = Outcome{Result: m.Result}
		if outcome.Result == nil {
			outcome.Result = map[string]any{}
		}
	case *protocol.Error:
		id = m.CorrelationID()
		outcome = Outcome{Err: &AgentError{AgentID: agentID, TaskID: id, Message: m.Error}}
	default:
		d.logger.Warn("ignoring non-reply message", "agent_id", agentID, "type", msg.Kind())
		return
	}

	if id == "" {
		if e, ok := msg.(*protocol.Error); ok {
			d.logger.Warn("agent reported protocol error", "agent_id", agentID, "error", e.Error)
		}
		return
	}

	d.mu.Lock()
	task, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		d.logger.Warn("received response for unknown task", "task_id", id, "agent_id", agentID)
		return
	}
	if task.AgentID != agentID {
		d.logger.Warn("response from unexpected agent",
			"task_id", id,
			"agent_id", agentID,
			"expected_agent_id", task.AgentID,
		)
		return
	}

	if d.resolve(id, outcome) {
		d.logger.Debug("task resolved", "task_id", id, "agent_id", agentID, "ok", outcome.Err == nil)
	}
}

// Pending returns the number of unresolved tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// IsPending reports whether taskID is still awaiting a reply.
func (d *Dispatcher) IsPending(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[taskID]
	return ok
}

// IsTimeout reports whether err is a task timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
