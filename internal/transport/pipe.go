// ABOUTME: In-memory Conn pair for exercising protocol logic without sockets.
// ABOUTME: Messages pass through the real codec so encoding bugs still surface.

package transport

import (
	"sync"

	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
)

type pipeState struct {
	once     sync.Once
	done     chan struct{}
	closeErr *CloseError
}

type pipeEnd struct {
	in    chan []byte
	out   chan []byte
	state *pipeState
	name  string
}

// Pipe returns two connected in-memory Conns. Closing either end closes both;
// the other end's Recv then returns a CloseError with the given code.
func Pipe() (Conn, Conn) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	state := &pipeState{done: make(chan struct{})}
	return &pipeEnd{in: a, out: b, state: state, name: "pipe-a"},
		&pipeEnd{in: b, out: a, state: state, name: "pipe-b"}
}

func (p *pipeEnd) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.state.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Recv() (protocol.Message, error) {
	select {
	case data := <-p.in:
		return p.decode(data)
	case <-p.state.done:
		select {
		case data := <-p.in:
			return p.decode(data)
		default:
		}
		return nil, p.state.closeErr
	}
}

func (p *pipeEnd) decode(data []byte) (protocol.Message, error) {
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return msg, nil
}

func (p *pipeEnd) Close(code int, reason string) error {
	p.state.once.Do(func() {
		p.state.closeErr = &CloseError{Code: code, Reason: reason}
		close(p.state.done)
	})
	return nil
}

func (p *pipeEnd) RemoteAddr() string { return p.name }
