// ABOUTME: Agent control-channel endpoint: authentication handshake and message loop
// ABOUTME: Routes replies to the dispatcher and answers heartbeats and pings

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
	"github.com/svdleer/PyPNMGui-sub000/internal/store"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

var (
	errHandshakeTimeout = errors.New("authentication timeout")
	errExpectedAuth     = errors.New("expected auth message")
)

// handleAgentWS upgrades /ws/agent and serves the agent until it disconnects.
func (g *Gateway) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	ws, err := transport.Upgrade(w, r)
	if err != nil {
		g.logger.Warn("agent websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	stop := ws.StartKeepalive(g.config.Agents.HeartbeatInterval)
	defer stop()

	g.ServeAgent(ws)
}

// ServeAgent runs the handshake and message loop on an accepted connection.
// It returns once the connection is closed.
func (g *Gateway) ServeAgent(tc transport.Conn) {
	logger := g.logger.With("remote_addr", tc.RemoteAddr())

	auth, err := g.awaitAuth(tc)
	switch {
	case errors.Is(err, errHandshakeTimeout):
		logger.Warn("agent did not authenticate in time", "timeout", g.config.Agents.HandshakeTimeout)
		g.rejectAuth(tc, "", err.Error(), transport.CloseHandshakeTimeout)
		return
	case errors.Is(err, errExpectedAuth):
		logger.Warn("first message was not auth")
		_ = tc.Send(&protocol.AuthResponse{Success: false, Error: err.Error()})
		g.rejectAuth(tc, "", err.Error(), transport.CloseAuthFailed)
		return
	case err != nil:
		logger.Debug("agent connection closed before authenticating", "error", err)
		return
	}

	if reason := g.checkAuth(auth); reason != "" {
		logger.Warn("agent authentication failed", "agent_id", auth.AgentID, "reason", reason)
		_ = tc.Send(&protocol.AuthResponse{Success: false, Error: reason})
		g.rejectAuth(tc, auth.AgentID, reason, transport.CloseAuthFailed)
		return
	}

	conn := agent.NewConnection(agent.ConnectionParams{
		ID:           auth.AgentID,
		Capabilities: auth.Capabilities,
		Conn:         tc,
		ConnectedAt:  g.agentManager.Now(),
		Logger:       logger.With("agent_id", auth.AgentID),
	})
	conn.MarkAuthenticated()

	// The reply goes out before registration so the agent never sees a
	// command ahead of its auth result.
	if err := tc.Send(&protocol.AuthSuccess{AgentID: auth.AgentID, Message: "Authenticated successfully"}); err != nil {
		logger.Warn("failed to send auth success", "agent_id", auth.AgentID, "error", err)
		_ = tc.Close(transport.CloseInternalError, "send failed")
		return
	}
	if err := g.agentManager.Register(conn); err != nil {
		logger.Error("failed to register agent", "agent_id", auth.AgentID, "error", err)
		_ = tc.Close(transport.CloseInternalError, "registration failed")
		return
	}
	defer g.agentManager.Unregister(conn)

	g.readLoop(conn, tc, logger.With("agent_id", auth.AgentID))
}

// awaitAuth waits for the first message, which must be an auth request.
// The connection is closed by the caller on failure.
func (g *Gateway) awaitAuth(tc transport.Conn) (*protocol.Auth, error) {
	var timedOut atomic.Bool
	if d := g.config.Agents.HandshakeTimeout; d > 0 {
		timer := time.AfterFunc(d, func() {
			timedOut.Store(true)
			_ = tc.Close(transport.CloseHandshakeTimeout, "authentication timeout")
		})
		defer timer.Stop()
	}

	for {
		msg, err := tc.Recv()
		if err != nil {
			if timedOut.Load() {
				return nil, errHandshakeTimeout
			}
			if transport.IsDecodeError(err) {
				continue
			}
			return nil, err
		}
		if timedOut.Load() {
			return nil, errHandshakeTimeout
		}

		auth, ok := msg.(*protocol.Auth)
		if !ok {
			return nil, errExpectedAuth
		}
		return auth, nil
	}
}

// checkAuth returns the rejection reason for auth, or "" when it is accepted.
func (g *Gateway) checkAuth(auth *protocol.Auth) string {
	if auth.AgentID == "" {
		return "agent_id is required"
	}
	if err := g.tokens.Check(auth.Token); err != nil {
		return "Invalid token"
	}
	return ""
}

func (g *Gateway) rejectAuth(tc transport.Conn, agentID, reason string, code int) {
	g.metrics.AuthFailed()
	g.audit.record(store.AuditAgentAuthFailed, agentID, "", tc.RemoteAddr(), map[string]any{"reason": reason})
	_ = tc.Close(code, reason)
}

// readLoop handles inbound traffic from an authenticated agent.
func (g *Gateway) readLoop(conn *agent.Connection, tc transport.Conn, logger *slog.Logger) {
	for {
		msg, err := tc.Recv()
		if err != nil {
			if transport.IsDecodeError(err) {
				logger.Warn("dropping malformed message", "error", err)
				continue
			}
			logger.Debug("agent connection ended", "error", err, "close_code", transport.CloseCode(err))
			return
		}
		g.agentManager.Touch(conn)

		switch m := msg.(type) {
		case *protocol.Heartbeat:
			if err := tc.Send(&protocol.HeartbeatAck{Timestamp: protocol.Timestamp(g.agentManager.Now())}); err != nil {
				logger.Debug("failed to ack heartbeat", "error", err)
			}
		case *protocol.Ping:
			if err := tc.Send(&protocol.Pong{Timestamp: protocol.Timestamp(g.agentManager.Now())}); err != nil {
				logger.Debug("failed to send pong", "error", err)
			}
		case *protocol.Response, *protocol.Error:
			g.dispatcher.OnResponse(conn.ID, m)
		case *protocol.Pong:
		case *protocol.Auth:
			logger.Warn("ignoring repeated auth on authenticated connection")
		default:
			logger.Warn("unexpected message from agent", "type", msg.Kind())
		}
	}
}
