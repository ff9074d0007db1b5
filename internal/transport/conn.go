// ABOUTME: Message-oriented connection abstraction shared by the gateway and the agent.
// ABOUTME: Defines close codes and the error types surfaced by Recv.

package transport

import (
	"errors"
	"fmt"

	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
)

// Close status codes used on the agent control channel.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseInternalError    = 1011
	CloseAuthFailed       = 4001
	CloseHandshakeTimeout = 4002
	CloseSuperseded       = 4003
)

// ErrClosed is returned by Send and Recv after the connection has been closed locally.
var ErrClosed = errors.New("connection closed")

// Conn carries protocol messages in both directions. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Conn interface {
	Send(msg protocol.Message) error
	Recv() (protocol.Message, error)
	Close(code int, reason string) error
	RemoteAddr() string
}

// CloseError reports that the peer closed the connection with a status code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed by peer: %d %s", e.Code, e.Reason)
}

// DecodeError wraps a frame that arrived intact but could not be decoded.
// The connection is still usable after a DecodeError.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "malformed message: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is a recoverable DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// CloseCode extracts the peer's close status from err, or 0 if err is not a CloseError.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
