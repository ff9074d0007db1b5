// ABOUTME: Tests for the agent registry including supersession and capability lookup.
// ABOUTME: Uses in-memory transport pipes and a fake clock.

package agent

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/protocol"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestConn returns an authenticated Connection and the peer end of its pipe.
func newTestConn(id string, caps ...string) (*Connection, transport.Conn) {
	server, peer := transport.Pipe()
	c := NewConnection(ConnectionParams{
		ID:           id,
		Capabilities: caps,
		Conn:         server,
		ConnectedAt:  epoch,
		Logger:       slog.Default(),
	})
	c.MarkAuthenticated()
	return c, peer
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingObserver) AgentConnected(c *Connection)    { r.record("connected:" + c.ID) }
func (r *recordingObserver) AgentSuperseded(c *Connection)   { r.record("superseded:" + c.ID) }
func (r *recordingObserver) AgentDisconnected(c *Connection) { r.record("disconnected:" + c.ID) }

func TestConnectionSend(t *testing.T) {
	conn, peer := newTestConn("agent-1", "snmp_get")

	require.NoError(t, conn.Send(&protocol.AuthSuccess{AgentID: "agent-1"}))

	msg, err := peer.Recv()
	require.NoError(t, err)
	success, ok := msg.(*protocol.AuthSuccess)
	require.True(t, ok)
	assert.Equal(t, "agent-1", success.AgentID)
}

func TestConnectionLiveness(t *testing.T) {
	conn, _ := newTestConn("agent-1")

	assert.True(t, conn.Alive(epoch.Add(30*time.Second), time.Minute))
	assert.False(t, conn.Alive(epoch.Add(61*time.Second), time.Minute))

	conn.Touch(epoch.Add(50 * time.Second))
	assert.True(t, conn.Alive(epoch.Add(61*time.Second), time.Minute))
	assert.True(t, conn.Alive(epoch.Add(time.Hour), 0), "zero window disables the check")
}

func TestManagerRegister(t *testing.T) {
	t.Run("registers authenticated agent", func(t *testing.T) {
		mgr := NewManager(slog.Default())
		conn, _ := newTestConn("agent-1", "snmp_get")

		require.NoError(t, mgr.Register(conn))

		got, ok := mgr.GetAgent("agent-1")
		require.True(t, ok)
		assert.Same(t, conn, got)
		assert.Equal(t, 1, mgr.Count())
	})

	t.Run("rejects unauthenticated connection", func(t *testing.T) {
		mgr := NewManager(slog.Default())
		server, _ := transport.Pipe()
		conn := NewConnection(ConnectionParams{ID: "agent-1", Conn: server, ConnectedAt: epoch})

		err := mgr.Register(conn)
		assert.True(t, errors.Is(err, ErrNotAuthenticated))
		assert.Equal(t, 0, mgr.Count())
	})
}

func TestManagerSupersession(t *testing.T) {
	obs := &recordingObserver{}
	mgr := NewManager(slog.Default(), WithObserver(obs))

	first, firstPeer := newTestConn("a1", "snmp_get")
	second, _ := newTestConn("a1", "snmp_get")

	require.NoError(t, mgr.Register(first))
	require.NoError(t, mgr.Register(second))

	got, ok := mgr.GetAgent("a1")
	require.True(t, ok)
	assert.Same(t, second, got, "new connection must replace the old one")
	assert.False(t, first.Authenticated(), "superseded connection is revoked")

	_, err := firstPeer.Recv()
	assert.Equal(t, transport.CloseSuperseded, transport.CloseCode(err))

	// The old socket's cleanup must not evict the replacement.
	assert.False(t, mgr.Unregister(first))
	got, ok = mgr.GetAgent("a1")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, mgr.Unregister(second))
	assert.Equal(t, 0, mgr.Count())

	assert.Equal(t, []string{
		"connected:a1",
		"superseded:a1",
		"connected:a1",
		"disconnected:a1",
	}, obs.events)
}

func TestManagerFindByCapability(t *testing.T) {
	fake := clock.Fake(epoch)
	mgr := NewManager(slog.Default(), WithClock(fake), WithLivenessWindow(time.Minute))

	snmp, _ := newTestConn("a1", "snmp_get", "snmp_walk")
	tftp, _ := newTestConn("a2", "tftp_get")
	require.NoError(t, mgr.Register(snmp))
	require.NoError(t, mgr.Register(tftp))

	t.Run("returns agent advertising capability", func(t *testing.T) {
		got, err := mgr.FindByCapability("tftp_get")
		require.NoError(t, err)
		assert.Equal(t, "a2", got.ID)
	})

	t.Run("no agent advertises capability", func(t *testing.T) {
		_, err := mgr.FindByCapability("cmts_command")
		assert.ErrorIs(t, err, ErrNoAgentsAvailable)
	})

	t.Run("skips stale agents", func(t *testing.T) {
		fake.Advance(2 * time.Minute)
		_, err := mgr.FindByCapability("snmp_get")
		assert.ErrorIs(t, err, ErrNoAgentsAvailable)
		assert.False(t, mgr.IsOnline("a1"))

		mgr.Touch(snmp)
		got, err := mgr.FindByCapability("snmp_get")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)
	})

	t.Run("skips revoked agents", func(t *testing.T) {
		mgr.Touch(tftp)
		tftp.Revoke()
		_, err := mgr.FindByCapability("tftp_get")
		assert.ErrorIs(t, err, ErrNoAgentsAvailable)
	})
}

func TestManagerFindByCapabilityRotates(t *testing.T) {
	mgr := NewManager(slog.Default())
	for _, id := range []string{"b", "a", "c"} {
		conn, _ := newTestConn(id, "snmp_get")
		require.NoError(t, mgr.Register(conn))
	}

	var picked []string
	for i := 0; i < 4; i++ {
		c, err := mgr.FindByCapability("snmp_get")
		require.NoError(t, err)
		picked = append(picked, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, picked)
}

func TestManagerNowFollowsClock(t *testing.T) {
	fake := clock.Fake(epoch)
	mgr := NewManager(slog.Default(), WithClock(fake))
	assert.Equal(t, epoch, mgr.Now())

	fake.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), mgr.Now())
}

func TestManagerListAgents(t *testing.T) {
	mgr := NewManager(slog.Default(), WithClock(clock.Fake(epoch)))
	for _, id := range []string{"z", "m"} {
		conn, _ := newTestConn(id, "ping")
		require.NoError(t, mgr.Register(conn))
	}

	list := mgr.ListAgents()
	require.Len(t, list, 2)
	assert.Equal(t, "m", list[0].ID)
	assert.Equal(t, "z", list[1].ID)
	assert.Equal(t, []string{"ping"}, list[0].Capabilities)
	assert.True(t, list[0].Alive)
}

func TestRouterSelectAgent(t *testing.T) {
	r := NewRouter()
	_, err := r.SelectAgent(nil)
	assert.ErrorIs(t, err, ErrNoAgentsAvailable)
}
