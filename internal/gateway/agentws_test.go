// ABOUTME: Tests for the agent handshake and read loop over an in-memory pipe
// ABOUTME: Covers auth success ordering, rejections, timeouts, supersession, and reply routing

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
	"github.com/svdleer/PyPNMGui-sub000/internal/store"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

func recvWithin(t *testing.T, conn transport.Conn) (protocol.Message, error) {
	t.Helper()
	type result struct {
		msg protocol.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := conn.Recv()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil, nil
	}
}

// serveAgent starts ServeAgent on the gateway end of a pipe and returns the agent end.
func serveAgent(t *testing.T, gw *Gateway) (transport.Conn, <-chan struct{}) {
	t.Helper()
	gwSide, agentSide := transport.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.ServeAgent(gwSide)
	}()
	t.Cleanup(func() {
		_ = agentSide.Close(transport.CloseNormal, "test done")
		<-done
	})
	return agentSide, done
}

func authenticate(t *testing.T, gw *Gateway, id string) transport.Conn {
	t.Helper()
	conn, _ := serveAgent(t, gw)
	require.NoError(t, conn.Send(&protocol.Auth{AgentID: id, Token: testAgentToken, Capabilities: []string{"snmp_get"}}))

	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	ok, isSuccess := msg.(*protocol.AuthSuccess)
	require.True(t, isSuccess, "expected auth_success, got %T", msg)
	assert.Equal(t, id, ok.AgentID)

	require.Eventually(t, func() bool { return gw.Agents().IsOnline(id) }, time.Second, 5*time.Millisecond)
	return conn
}

func TestServeAgentAuthenticates(t *testing.T) {
	gw := newTestGateway(t)
	authenticate(t, gw, "a1")

	agents := gw.Agents().ListAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, []string{"snmp_get"}, agents[0].Capabilities)
}

func TestServeAgentStampsConnectionFromClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw, err := New(testConfig(t), testLogger(), WithClock(clock.Fake(start)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	conn := authenticate(t, gw, "a1")

	agents := gw.Agents().ListAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, start, agents[0].ConnectedAt)

	require.NoError(t, conn.Send(&protocol.Heartbeat{}))
	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	ack, ok := msg.(*protocol.HeartbeatAck)
	require.True(t, ok, "expected heartbeat_ack, got %T", msg)
	assert.Equal(t, protocol.Timestamp(start), ack.Timestamp)
}

func TestServeAgentRejectsBadToken(t *testing.T) {
	gw := newTestGateway(t)
	conn, done := serveAgent(t, gw)

	require.NoError(t, conn.Send(&protocol.Auth{AgentID: "a1", Token: "wrong"}))

	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	resp, ok := msg.(*protocol.AuthResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid token", resp.Error)

	_, err = recvWithin(t, conn)
	assert.Equal(t, transport.CloseAuthFailed, transport.CloseCode(err))
	<-done
	assert.Equal(t, 0, gw.Agents().Count())

	entries, err := gw.store.ListAudit(context.Background(), auditFilter(store.AuditAgentAuthFailed))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AgentID)
}

func TestServeAgentRequiresAgentID(t *testing.T) {
	gw := newTestGateway(t)
	conn, _ := serveAgent(t, gw)

	require.NoError(t, conn.Send(&protocol.Auth{Token: testAgentToken}))

	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	resp, ok := msg.(*protocol.AuthResponse)
	require.True(t, ok)
	assert.Equal(t, "agent_id is required", resp.Error)
}

func TestServeAgentRejectsNonAuthFirstMessage(t *testing.T) {
	gw := newTestGateway(t)
	conn, _ := serveAgent(t, gw)

	require.NoError(t, conn.Send(&protocol.Heartbeat{}))

	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	resp, ok := msg.(*protocol.AuthResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)

	_, err = recvWithin(t, conn)
	assert.Equal(t, transport.CloseAuthFailed, transport.CloseCode(err))
}

func TestServeAgentHandshakeTimeout(t *testing.T) {
	gw := newTestGateway(t)
	gw.config.Agents.HandshakeTimeout = 50 * time.Millisecond
	conn, done := serveAgent(t, gw)

	_, err := recvWithin(t, conn)
	assert.Equal(t, transport.CloseHandshakeTimeout, transport.CloseCode(err))
	<-done
}

func TestServeAgentSupersedesPreviousConnection(t *testing.T) {
	gw := newTestGateway(t)
	first := authenticate(t, gw, "a1")
	second := authenticate(t, gw, "a1")

	_, err := recvWithin(t, first)
	assert.Equal(t, transport.CloseSuperseded, transport.CloseCode(err))

	assert.Equal(t, 1, gw.Agents().Count())
	require.NoError(t, second.Send(&protocol.Ping{}))
	msg, err := recvWithin(t, second)
	require.NoError(t, err)
	assert.IsType(t, &protocol.Pong{}, msg)
	assert.True(t, gw.Agents().IsOnline("a1"))
}

func TestServeAgentAnswersHeartbeat(t *testing.T) {
	gw := newTestGateway(t)
	conn := authenticate(t, gw, "a1")

	require.NoError(t, conn.Send(&protocol.Heartbeat{Timestamp: protocol.Timestamp(time.Now())}))
	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	assert.IsType(t, &protocol.HeartbeatAck{}, msg)
}

func TestServeAgentRoutesReplies(t *testing.T) {
	gw := newTestGateway(t)
	conn := authenticate(t, gw, "a1")

	id, err := gw.Dispatcher().Submit(context.Background(), "a1", "snmp_get", map[string]any{"oid": "1.3"}, time.Second)
	require.NoError(t, err)

	msg, err := recvWithin(t, conn)
	require.NoError(t, err)
	cmd, ok := msg.(*protocol.Command)
	require.True(t, ok)
	assert.Equal(t, id, cmd.TaskID)
	assert.Equal(t, "snmp_get", cmd.Command)

	require.NoError(t, conn.Send(&protocol.Response{TaskID: id, Result: map[string]any{"success": true}}))

	result, err := gw.Dispatcher().Await(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
}

func TestServeAgentUnregistersOnDisconnect(t *testing.T) {
	gw := newTestGateway(t)
	conn := authenticate(t, gw, "a1")

	require.NoError(t, conn.Close(transport.CloseNormal, "bye"))
	require.Eventually(t, func() bool { return gw.Agents().Count() == 0 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := gw.store.ListAudit(context.Background(), auditFilter(store.AuditAgentDisconnected))
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)
}
