// ABOUTME: Storage interfaces and shared errors for the gateway's audit log
// ABOUTME: SQLiteStore implements AuditStore; tests may substitute an in-memory fake

package store

import (
	"context"
	"errors"
)

// ErrInvalidAction is returned when an audit entry carries an unknown action.
var ErrInvalidAction = errors.New("invalid audit action")

// AuditStore persists lifecycle events for agents and capture sessions.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ AuditStore = (*SQLiteStore)(nil)
