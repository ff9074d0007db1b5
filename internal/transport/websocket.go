// ABOUTME: gorilla/websocket implementation of Conn for both server and client sides.
// ABOUTME: Writes are serialized by a mutex; keepalive pings run on the same lock.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 4 << 20
)

// Upgrader accepts agent connections. Agents are not browsers, so any Origin is allowed.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSConn adapts a *websocket.Conn to Conn.
type WSConn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewWSConn wraps an established websocket.
func NewWSConn(ws *websocket.Conn) *WSConn {
	ws.SetReadLimit(defaultReadLimit)
	return &WSConn{
		ws:           ws,
		writeTimeout: defaultWriteTimeout,
		closed:       make(chan struct{}),
	}
}

// Upgrade performs the server side of the websocket handshake.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection: %w", err)
	}
	return NewWSConn(ws), nil
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, header http.Header) (*WSConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWSConn(ws), nil
}

// Send encodes msg and writes it as one text frame.
func (c *WSConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendJSON writes an arbitrary JSON value as one text frame.
func (c *WSConn) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *WSConn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(kind, data)
}

// Recv blocks for the next message. Malformed frames yield a DecodeError and
// leave the connection open.
func (c *WSConn) Recv() (protocol.Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			if c.isClosed() {
				return nil, ErrClosed
			}
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		return msg, nil
	}
}

// Close sends a close frame with code and reason, then tears down the socket.
// Only the first call has any effect.
func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Done is closed once Close has been called.
func (c *WSConn) Done() <-chan struct{} {
	return c.closed
}

func (c *WSConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// StartKeepalive sends websocket ping frames every interval and extends the
// read deadline whenever a pong arrives. A peer that stops answering is
// dropped once the read deadline passes. The returned func stops the pinger.
func (c *WSConn) StartKeepalive(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	wait := 3 * interval
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.closed:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}
