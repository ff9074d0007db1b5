// ABOUTME: Registry of connected agents keyed by agent id.
// ABOUTME: Handles supersession on re-authentication and capability-based lookup.

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/transport"
)

// ErrNotAuthenticated indicates an attempt to register a connection that has not completed auth.
var ErrNotAuthenticated = errors.New("connection not authenticated")

// Observer is notified of registry changes. Calls happen outside the registry lock.
type Observer interface {
	AgentConnected(conn *Connection)
	AgentSuperseded(old *Connection)
	AgentDisconnected(conn *Connection)
}

// Manager holds at most one connection per agent id.
type Manager struct {
	agents    map[string]*Connection
	mu        sync.RWMutex
	router    *Router
	clock     clock.Clock
	window    time.Duration
	observers []Observer
	logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source used for liveness checks.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithLivenessWindow sets how recently an agent must have been heard from to
// be selected by capability. Zero disables the check.
func WithLivenessWindow(d time.Duration) ManagerOption {
	return func(m *Manager) { m.window = d }
}

// WithObserver adds a registry observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		agents: make(map[string]*Connection),
		router: NewRouter(),
		clock:  clock.Real(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register inserts an authenticated connection. If another connection holds
// the same id it is revoked and closed before the new one becomes visible.
func (m *Manager) Register(conn *Connection) error {
	if !conn.Authenticated() {
		return fmt.Errorf("registering %s: %w", conn.ID, ErrNotAuthenticated)
	}

	m.mu.Lock()
	old, exists := m.agents[conn.ID]
	if exists && old != conn {
		m.logger.Warn("agent re-authenticated: closing previous connection",
			"agent_id", conn.ID,
			"previous_addr", old.RemoteAddr,
			"remote_addr", conn.RemoteAddr,
		)
		_ = old.Close(transport.CloseSuperseded, "superseded by new connection")
	}
	m.agents[conn.ID] = conn
	total := len(m.agents)
	m.mu.Unlock()

	m.logger.Info("=== AGENT CONNECTED ===",
		"agent_id", conn.ID,
		"capabilities", conn.Capabilities,
		"remote_addr", conn.RemoteAddr,
		"total_agents", total,
	)

	for _, o := range m.observers {
		if exists && old != conn {
			o.AgentSuperseded(old)
		}
		o.AgentConnected(conn)
	}
	return nil
}

// Unregister removes conn if it is still the registered connection for its id.
// A connection that was superseded is left alone, so a late cleanup from the
// old socket never evicts its replacement. Reports whether anything was removed.
func (m *Manager) Unregister(conn *Connection) bool {
	m.mu.Lock()
	current, ok := m.agents[conn.ID]
	removed := ok && current == conn
	if removed {
		delete(m.agents, conn.ID)
	}
	total := len(m.agents)
	m.mu.Unlock()

	if !removed {
		return false
	}

	m.logger.Info("=== AGENT DISCONNECTED ===",
		"agent_id", conn.ID,
		"total_agents", total,
	)
	for _, o := range m.observers {
		o.AgentDisconnected(conn)
	}
	return true
}

// GetAgent retrieves a specific agent by ID.
func (m *Manager) GetAgent(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	return agent, ok
}

// FindByCapability picks an authenticated, live agent that advertised capability.
// Candidates are rotated round-robin in id order.
func (m *Manager) FindByCapability(capability string) (*Connection, error) {
	now := m.clock.Now()

	m.mu.RLock()
	candidates := make([]*Connection, 0, len(m.agents))
	for _, c := range m.agents {
		if c.Authenticated() && c.HasCapability(capability) && c.Alive(now, m.window) {
			candidates = append(candidates, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return m.router.SelectAgent(candidates)
}

// Now returns the current time on the manager's clock.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// Touch records inbound traffic from conn.
func (m *Manager) Touch(conn *Connection) {
	conn.Touch(m.clock.Now())
}

// IsOnline reports whether an agent with the given id is registered and live.
func (m *Manager) IsOnline(agentID string) bool {
	c, ok := m.GetAgent(agentID)
	return ok && c.Authenticated() && c.Alive(m.clock.Now(), m.window)
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// AgentInfo is a snapshot of a registered agent for API responses.
type AgentInfo struct {
	ID            string    `json:"agent_id"`
	Capabilities  []string  `json:"capabilities"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastSeen      time.Time `json:"last_seen"`
	Authenticated bool      `json:"authenticated"`
	Alive         bool      `json:"alive"`
}

// ListAgents returns information about all connected agents, ordered by id.
func (m *Manager) ListAgents() []*AgentInfo {
	now := m.clock.Now()

	m.mu.RLock()
	agents := make([]*AgentInfo, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, &AgentInfo{
			ID:            a.ID,
			Capabilities:  a.Capabilities,
			RemoteAddr:    a.RemoteAddr,
			ConnectedAt:   a.ConnectedAt,
			LastSeen:      a.LastSeen(),
			Authenticated: a.Authenticated(),
			Alive:         a.Alive(now, m.window),
		})
	}
	m.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// CloseAll closes every registered connection, used during shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.agents))
	for _, c := range m.agents {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close(transport.CloseGoingAway, reason)
	}
}
