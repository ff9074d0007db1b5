// ABOUTME: Audit trail for agent lifecycle and capture sessions
// ABOUTME: Observes the agent manager and records entries in the audit store

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/store"
)

const auditWriteTimeout = 5 * time.Second

// auditObserver writes agent lifecycle events to the audit store.
type auditObserver struct {
	store  store.AuditStore
	clock  clock.Clock
	logger *slog.Logger
}

func newAuditObserver(s store.AuditStore, clk clock.Clock, logger *slog.Logger) *auditObserver {
	return &auditObserver{store: s, clock: clk, logger: logger}
}

func (a *auditObserver) AgentConnected(c *agent.Connection) {
	a.record(store.AuditAgentConnected, c.ID, "", c.RemoteAddr, map[string]any{
		"capabilities": c.Capabilities,
	})
}

func (a *auditObserver) AgentSuperseded(c *agent.Connection) {
	a.record(store.AuditAgentSuperseded, c.ID, "", c.RemoteAddr, nil)
}

func (a *auditObserver) AgentDisconnected(c *agent.Connection) {
	a.record(store.AuditAgentDisconnected, c.ID, "", c.RemoteAddr, map[string]any{
		"connected_for_s": a.clock.Now().Sub(c.ConnectedAt).Seconds(),
	})
}

// record appends one entry. Failures are logged and dropped.
func (a *auditObserver) record(action store.AuditAction, agentID, subject, remoteAddr string, detail map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	err := a.store.AppendAudit(ctx, &store.AuditEntry{
		Action:     action,
		AgentID:    agentID,
		Subject:    subject,
		RemoteAddr: remoteAddr,
		Detail:     detail,
	})
	if err != nil {
		a.logger.Warn("failed to write audit entry", "action", action, "agent_id", agentID, "error", err)
	}
}
