package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/haven-crm/haven/internal/tenant"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// ErrAuditIncomplete is returned when a record lacks action, entity or entity id.
var ErrAuditIncomplete = errors.New("audit log requires action/entity/entity_id")

const insertAuditSQL = `INSERT INTO audit_logs (organization_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES (current_setting('app.current_organization_id')::uuid, $1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// AuditLogger writes records into audit_logs through an organization-bound
// transaction, so the organization is always the one the caller is bound to.
type AuditLogger struct{}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// Record persists the log entry using q, normally the Querier of the
// transaction that performed the audited change.
func (l *AuditLogger) Record(ctx context.Context, q tenant.Querier, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrAuditIncomplete
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		utc := log.At.UTC()
		at = &utc
	}
	_, err = q.Exec(ctx, insertAuditSQL, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
