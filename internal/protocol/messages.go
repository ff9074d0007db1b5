// ABOUTME: Control-channel messages exchanged between the gateway and remote agents.
// ABOUTME: Each kind is a distinct struct; Decode rejects any type it does not know.

package protocol

import "time"

// Type is the value of the "type" field on the wire.
type Type string

const (
	TypeAuth         Type = "auth"
	TypeAuthSuccess  Type = "auth_success"
	TypeAuthResponse Type = "auth_response"
	TypeCommand      Type = "command"
	TypeResponse     Type = "response"
	TypeError        Type = "error"
	TypeHeartbeat    Type = "heartbeat"
	TypeHeartbeatAck Type = "heartbeat_ack"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
)

// Message is implemented by every control-channel message.
type Message interface {
	Kind() Type
	isMessage()
}

// Auth is the first message an agent sends after connecting.
type Auth struct {
	AgentID      string   `json:"agent_id"`
	Token        string   `json:"token"`
	Capabilities []string `json:"capabilities"`
}

// AuthSuccess confirms a registered agent.
type AuthSuccess struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message,omitempty"`
}

// AuthResponse is the legacy auth reply; the gateway sends it only on failure.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Command asks an agent to run a named operation.
type Command struct {
	TaskID  string         `json:"task_id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// Response carries the successful result of a Command.
type Response struct {
	TaskID    string         `json:"task_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Result    map[string]any `json:"result"`
}

// Error reports a failed Command, or a protocol-level problem when no task is named.
type Error struct {
	TaskID    string `json:"task_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Heartbeat is sent periodically by agents.
type Heartbeat struct {
	Timestamp float64 `json:"timestamp,omitempty"`
}

// HeartbeatAck acknowledges a Heartbeat.
type HeartbeatAck struct {
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Ping is a liveness check; the receiver answers with Pong.
type Ping struct {
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Pong answers a Ping.
type Pong struct {
	Timestamp float64 `json:"timestamp,omitempty"`
}

func (*Auth) Kind() Type         { return TypeAuth }
func (*AuthSuccess) Kind() Type  { return TypeAuthSuccess }
func (*AuthResponse) Kind() Type { return TypeAuthResponse }
func (*Command) Kind() Type      { return TypeCommand }
func (*Response) Kind() Type     { return TypeResponse }
func (*Error) Kind() Type        { return TypeError }
func (*Heartbeat) Kind() Type    { return TypeHeartbeat }
func (*HeartbeatAck) Kind() Type { return TypeHeartbeatAck }
func (*Ping) Kind() Type         { return TypePing }
func (*Pong) Kind() Type         { return TypePong }

func (*Auth) isMessage()         {}
func (*AuthSuccess) isMessage()  {}
func (*AuthResponse) isMessage() {}
func (*Command) isMessage()      {}
func (*Response) isMessage()     {}
func (*Error) isMessage()        {}
func (*Heartbeat) isMessage()    {}
func (*HeartbeatAck) isMessage() {}
func (*Ping) isMessage()         {}
func (*Pong) isMessage()         {}

// CorrelationID returns the task id, falling back to the legacy request_id.
func (r *Response) CorrelationID() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.RequestID
}

// CorrelationID returns the task id, falling back to the legacy request_id.
func (e *Error) CorrelationID() string {
	if e.TaskID != "" {
		return e.TaskID
	}
	return e.RequestID
}

// Timestamp formats t the way agents report it: fractional Unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
