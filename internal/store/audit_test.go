// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Action:     AuditAgentConnected,
		AgentID:    "agent-01",
		RemoteAddr: "10.0.0.5:51234",
		Detail:     map[string]any{"capabilities": []any{"snmp_get", "pnm_utsc"}},
	}

	err := store.AppendAudit(ctx, entry)
	require.NoError(t, err)

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAudit(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, "10.0.0.5:51234", entries[0].RemoteAddr)
	assert.Equal(t, []any{"snmp_get", "pnm_utsc"}, entries[0].Detail["capabilities"])
	assert.True(t, entry.Timestamp.Equal(entries[0].Timestamp))
}

func TestAuditStore_Append_InvalidAction(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAudit(context.Background(), &AuditEntry{Action: "reboot_cmts"})
	assert.True(t, errors.Is(err, ErrInvalidAction))
}

func TestAuditStore_List_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	actions := []AuditAction{AuditAgentConnected, AuditAgentSuperseded, AuditAgentDisconnected}
	for i, action := range actions {
		require.NoError(t, store.AppendAudit(ctx, &AuditEntry{
			Action:    action,
			AgentID:   "agent-01",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	entries, err := store.ListAudit(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditAgentDisconnected, entries[0].Action)
	assert.Equal(t, AuditAgentConnected, entries[2].Action)
}

func TestAuditStore_List_SameTimestampKeepsInsertOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendAudit(ctx, &AuditEntry{Action: AuditCaptureStarted, Timestamp: ts}))
	require.NoError(t, store.AppendAudit(ctx, &AuditEntry{Action: AuditCaptureFinished, Timestamp: ts}))

	entries, err := store.ListAudit(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, AuditCaptureFinished, entries[0].Action)
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []AuditEntry{
		{Action: AuditAgentConnected, AgentID: "a1", Timestamp: base},
		{Action: AuditAgentConnected, AgentID: "a2", Timestamp: base.Add(10 * time.Minute)},
		{Action: AuditAgentAuthFailed, AgentID: "a3", Timestamp: base.Add(20 * time.Minute)},
		{Action: AuditAgentDisconnected, AgentID: "a1", Timestamp: base.Add(30 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, store.AppendAudit(ctx, &seed[i]))
	}

	t.Run("since", func(t *testing.T) {
		since := base.Add(15 * time.Minute)
		entries, err := store.ListAudit(ctx, AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("until", func(t *testing.T) {
		until := base.Add(10 * time.Minute)
		entries, err := store.ListAudit(ctx, AuditFilter{Until: &until})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("action", func(t *testing.T) {
		action := AuditAgentConnected
		entries, err := store.ListAudit(ctx, AuditFilter{Action: &action})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("agent", func(t *testing.T) {
		agentID := "a1"
		entries, err := store.ListAudit(ctx, AuditFilter{AgentID: &agentID})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, AuditAgentDisconnected, entries[0].Action)
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := store.ListAudit(ctx, AuditFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("no match", func(t *testing.T) {
		agentID := "nobody"
		entries, err := store.ListAudit(ctx, AuditFilter{AgentID: &agentID})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
