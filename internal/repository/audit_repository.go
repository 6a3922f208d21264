package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/iliyamo/gauge-set-tracker/internal/model"
)

// AuditRepo writes audit_logs rows.  The hash chain over those rows is
// maintained by the audit service that owns the table; this writer only
// supplies the payload.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns an AuditRepo bound to db.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// CreateAuditLogTx inserts one audit row on the caller's transaction so
// that the record commits or rolls back together with the change it
// describes.  Before and After are stored as JSON; nil is stored as NULL.
func (r *AuditRepo) CreateAuditLogTx(ctx context.Context, tx *sql.Tx, e model.AuditEntry) error {
	before, err := jsonOrNull(e.Before)
	if err != nil {
		return err
	}
	after, err := jsonOrNull(e.After)
	if err != nil {
		return err
	}
	const q = `INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, before_json, after_json, created_at)
               VALUES (?, ?, ?, ?, ?, ?, UTC_TIMESTAMP())`
	_, err = tx.ExecContext(ctx, q, e.ActorID, e.Action, e.EntityType, e.EntityID, before, after)
	return err
}

func jsonOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
