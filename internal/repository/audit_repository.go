package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (target_type, target_id, request_id, stage_id,
		     action, performed_by,
		     status_before, status_after,
		     metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7, $8,
		        $9)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.TargetType,
		entry.TargetID,
		entry.RequestID,
		entry.StageID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByTarget returns the full audit trail for an artifact, oldest first.
func (r *AuditRepository) GetByTarget(ctx context.Context, targetType, targetID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, target_type, target_id, request_id, stage_id,
		       action, performed_by, performed_at,
		       status_before, status_after,
		       metadata
		FROM approval_audit_log
		WHERE target_type = $1 AND target_id = $2
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, targetType, targetID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.TargetType,
			&entry.TargetID,
			&entry.RequestID,
			&entry.StageID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
