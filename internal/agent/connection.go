// ABOUTME: Represents a single authenticated agent and its control-channel transport.
// ABOUTME: Tracks identity, capabilities, and liveness; sending is delegated to the transport.

package agent

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

// ConnectionParams holds the parameters for creating a new Connection.
type ConnectionParams struct {
	ID           string
	Capabilities []string
	Conn         transport.Conn
	ConnectedAt  time.Time
	Logger       *slog.Logger
}

// Connection is one agent session on the gateway.
type Connection struct {
	ID           string
	Capabilities []string
	ConnectedAt  time.Time
	RemoteAddr   string

	caps          map[string]struct{}
	conn          transport.Conn
	authenticated atomic.Bool
	lastSeen      atomic.Int64
	logger        *slog.Logger
}

// NewConnection creates a Connection. It starts unauthenticated; the handshake
// calls MarkAuthenticated before the connection is registered.
func NewConnection(p ConnectionParams) *Connection {
	caps := make(map[string]struct{}, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps[c] = struct{}{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		ID:           p.ID,
		Capabilities: p.Capabilities,
		ConnectedAt:  p.ConnectedAt,
		caps:         caps,
		conn:         p.Conn,
		logger:       logger,
	}
	if p.Conn != nil {
		c.RemoteAddr = p.Conn.RemoteAddr()
	}
	c.lastSeen.Store(p.ConnectedAt.UnixNano())
	return c
}

// Send transmits a message to the agent.
func (c *Connection) Send(msg protocol.Message) error {
	return c.conn.Send(msg)
}

// Close revokes the connection and closes its transport with the given status.
func (c *Connection) Close(code int, reason string) error {
	c.authenticated.Store(false)
	return c.conn.Close(code, reason)
}

// MarkAuthenticated records a successful handshake.
func (c *Connection) MarkAuthenticated() {
	c.authenticated.Store(true)
}

// Revoke clears the authenticated flag without closing the transport.
func (c *Connection) Revoke() {
	c.authenticated.Store(false)
}

// Authenticated reports whether the connection may receive commands.
func (c *Connection) Authenticated() bool {
	return c.authenticated.Load()
}

// HasCapability reports whether the agent advertised capability.
func (c *Connection) HasCapability(capability string) bool {
	_, ok := c.caps[capability]
	return ok
}

// Touch records inbound traffic at t.
func (c *Connection) Touch(t time.Time) {
	c.lastSeen.Store(t.UnixNano())
}

// LastSeen returns the time of the most recent inbound message.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Alive reports whether the agent was heard from within window of now.
// A zero window disables the check.
func (c *Connection) Alive(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(c.LastSeen()) <= window
}
