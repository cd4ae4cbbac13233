package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuditEntry is one row of the audit trail. Action is stored upper-cased.
type AuditEntry struct {
	Actor    Actor
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (e AuditEntry) validate() error {
	fields := FieldErrors{}
	if strings.TrimSpace(e.Action) == "" {
		fields.Add("action", "is required")
	}
	if strings.TrimSpace(e.Entity) == "" {
		fields.Add("entity", "is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		fields.Add("entityId", "is required")
	}
	return fields.Err()
}

// AuditLogger appends entries to audit_logs.
type AuditLogger struct {
	db  Execer
	now func() time.Time
}

// NewAuditLogger binds the logger to a pool or transaction.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

const insertAudit = `INSERT INTO audit_logs (actor_id, actor_name, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Record writes entry. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = l.now()
	}
	_, err = l.db.Exec(ctx, insertAudit,
		entry.Actor.ID, entry.Actor.Label(), strings.ToUpper(strings.TrimSpace(entry.Action)),
		entry.Entity, entry.EntityID, metaJSON, at.UTC())
	if err != nil {
		return Transient(err)
	}
	return nil
}
