package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"minerva.org/internal/audit"
)

// AuditSink appends audit records to the audit_records table. Records are
// immutable once written; there is no update or delete path.
type AuditSink struct {
	db *sql.DB
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *AuditSink) Write(ctx context.Context, rec *audit.Record) error {
	changes := []byte("{}")
	if len(rec.Changes) > 0 {
		b, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
		changes = b
	}
	metadata := []byte("{}")
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_records (id, action_type, resource_type, resource_id, actor_id, actor_username, changes, result, error_message, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.ActionType, rec.ResourceType, rec.ResourceID, rec.ActorID, rec.ActorUsername,
		changes, string(rec.Result), rec.ErrorMessage, metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
