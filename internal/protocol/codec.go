// ABOUTME: JSON encoding and decoding for control-channel messages.
// ABOUTME: The "type" field selects the concrete struct; unknown types are an error.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMessageType is returned by Decode for a type it does not recognize.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrMissingType is returned by Decode when the "type" field is absent.
var ErrMissingType = errors.New("message has no type")

// Encode serializes m as a flat JSON object with a leading "type" field.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encoding nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Kind(), err)
	}

	head := fmt.Sprintf(`{"type":%q`, m.Kind())
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// Decode parses a single message.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	var m Message
	switch envelope.Type {
	case TypeAuth:
		m = &Auth{}
	case TypeAuthSuccess:
		m = &AuthSuccess{}
	case TypeAuthResponse:
		m = &AuthResponse{}
	case TypeCommand:
		m = &Command{}
	case TypeResponse:
		m = &Response{}
	case TypeError:
		m = &Error{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeHeartbeatAck:
		m = &HeartbeatAck{}
	case TypePing:
		m = &Ping{}
	case TypePong:
		m = &Pong{}
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", envelope.Type, err)
	}
	if c, ok := m.(*Command); ok && c.TaskID == "" {
		// Older agents and servers correlate commands by request_id.
		var legacy struct {
			RequestID string `json:"request_id"`
		}
		_ = json.Unmarshal(data, &legacy)
		c.TaskID = legacy.RequestID
	}
	return m, nil
}
