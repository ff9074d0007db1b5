// ABOUTME: Capture device abstraction and its agent-backed implementation.
// ABOUTME: The agent drives the CMTS UTSC tables over SNMP on the gateway's behalf.

package utsc

import (
	"context"
	"fmt"
	"time"
)

// MeasStatus is docsPnmCmtsUtscStatusMeasStatus.
type MeasStatus int

const (
	StatusUnknown             MeasStatus = 0
	StatusOther               MeasStatus = 1
	StatusInactive            MeasStatus = 2
	StatusBusy                MeasStatus = 3
	StatusSampleReady         MeasStatus = 4
	StatusError               MeasStatus = 5
	StatusResourceUnavailable MeasStatus = 6
	StatusSampleTruncated     MeasStatus = 7
)

func (s MeasStatus) String() string {
	switch s {
	case StatusOther:
		return "other"
	case StatusInactive:
		return "inactive"
	case StatusBusy:
		return "busy"
	case StatusSampleReady:
		return "sampleReady"
	case StatusError:
		return "error"
	case StatusResourceUnavailable:
		return "resourceUnavailable"
	case StatusSampleTruncated:
		return "sampleTruncated"
	default:
		return "unknown"
	}
}

// Device is the capture hardware for one session.
type Device interface {
	Configure(ctx context.Context, p Params) error
	Trigger(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (MeasStatus, error)
}

// Agent command names understood by agents with the CapabilityUTSC capability.
const (
	CapabilityUTSC   = "pnm_utsc"
	CommandConfigure = "pnm_utsc_configure"
	CommandStart     = "pnm_utsc_start"
	CommandStop      = "pnm_utsc_stop"
	CommandStatus    = "pnm_utsc_status"
)

// Executor runs a command on an agent and waits for the result.
type Executor interface {
	Execute(ctx context.Context, agentID, command string, params map[string]any, timeout time.Duration) (map[string]any, error)
	ExecuteByCapability(ctx context.Context, capability, command string, params map[string]any, timeout time.Duration) (map[string]any, error)
}

// AgentDevice drives UTSC through an agent. With an empty AgentID any agent
// advertising CapabilityUTSC is used.
type AgentDevice struct {
	exec    Executor
	agentID string
	timeout time.Duration
	params  Params
}

// NewAgentDevice returns a Device that sends pnm_utsc_* commands through exec.
func NewAgentDevice(exec Executor, agentID string, timeout time.Duration) *AgentDevice {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AgentDevice{exec: exec, agentID: agentID, timeout: timeout}
}

func (d *AgentDevice) run(ctx context.Context, command string, params map[string]any) (map[string]any, error) {
	var (
		res map[string]any
		err error
	)
	if d.agentID != "" {
		res, err = d.exec.Execute(ctx, d.agentID, command, params, d.timeout)
	} else {
		res, err = d.exec.ExecuteByCapability(ctx, CapabilityUTSC, command, params, d.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	if ok, present := res["success"].(bool); present && !ok {
		msg, _ := res["error"].(string)
		if msg == "" {
			msg = "agent reported failure"
		}
		return nil, fmt.Errorf("%s: %s", command, msg)
	}
	return res, nil
}

func (d *AgentDevice) target() map[string]any {
	return map[string]any{
		"cmts_ip":         d.params.CMTSIP,
		"community":       d.params.Community,
		"rf_port_ifindex": d.params.RFPortIfIndex,
	}
}

// Configure writes the capture configuration to the CMTS.
func (d *AgentDevice) Configure(ctx context.Context, p Params) error {
	d.params = p
	_, err := d.run(ctx, CommandConfigure, p.AsMap())
	return err
}

// Trigger starts a capture burst.
func (d *AgentDevice) Trigger(ctx context.Context) error {
	_, err := d.run(ctx, CommandStart, d.target())
	return err
}

// Stop aborts any running capture.
func (d *AgentDevice) Stop(ctx context.Context) error {
	_, err := d.run(ctx, CommandStop, d.target())
	return err
}

// Status reads the measurement status.
func (d *AgentDevice) Status(ctx context.Context) (MeasStatus, error) {
	res, err := d.run(ctx, CommandStatus, d.target())
	if err != nil {
		return StatusUnknown, err
	}
	switch v := res["meas_status"].(type) {
	case float64:
		return MeasStatus(int(v)), nil
	case int:
		return MeasStatus(v), nil
	default:
		return StatusUnknown, fmt.Errorf("%s: missing meas_status in result", CommandStatus)
	}
}
