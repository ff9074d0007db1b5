// Package agent tracks remote agents connected to the gateway.
//
// # Manager
//
// The Manager is the connection registry. It holds at most one Connection
// per agent id, and only connections that completed the auth handshake:
//
//	mgr := agent.NewManager(logger, agent.WithLivenessWindow(60*time.Second))
//
// Key operations:
//
//   - Register(conn): insert an authenticated connection, closing any
//     previous connection for the same id with CloseSuperseded
//   - Unregister(conn): remove conn only if it is still the registered one
//   - GetAgent(id): look up by id
//   - FindByCapability(cap): pick a live agent advertising cap
//   - ListAgents(): snapshot for the HTTP API
//
// # Liveness
//
// Every inbound message touches Connection.LastSeen. An agent not heard
// from within the liveness window is skipped by FindByCapability but stays
// registered until its socket closes.
//
// # Observers
//
// Observers receive connect, supersede, and disconnect notifications after
// the registry lock is released. The gateway uses them for metrics and the
// audit log.
package agent
