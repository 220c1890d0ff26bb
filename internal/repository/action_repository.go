package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// execer is satisfied by both *database.DB and pgx.Tx so the action insert can
// run standalone or inside a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActionRepository appends and reads the immutable approval action log. The
// request's derived state is a fold over these entries plus the stage
// definitions, so append is the only mutation exposed.
type ActionRepository struct {
	db *database.DB
}

// NewActionRepository creates a new ActionRepository.
func NewActionRepository(db *database.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// Append inserts one action entry.
func (r *ActionRepository) Append(ctx context.Context, a *workflow.ApprovalAction) error {
	return insertAction(ctx, r.db, a)
}

func insertAction(ctx context.Context, ex execer, a *workflow.ApprovalAction) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action metadata")
	}
	var attachmentsJSON []byte
	if a.Attachments != nil {
		attachmentsJSON, err = json.Marshal(a.Attachments)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action attachments")
		}
	}

	query := `
		INSERT INTO approval_actions
		    (id, request_id, stage_id, approver_id,
		     action, comment, attachments, metadata, created_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9)
	`

	_, err = ex.Exec(ctx, query,
		a.ID,
		a.RequestID,
		a.StageID,
		a.ApproverID,
		a.Action,
		a.Comment,
		attachmentsJSON,
		metadataJSON,
		a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval action")
	}
	return nil
}

// ListByRequest returns all actions for a request, oldest first.
func (r *ActionRepository) ListByRequest(ctx context.Context, requestID string) ([]workflow.ApprovalAction, error) {
	query := `
		SELECT id, request_id, stage_id, approver_id,
		       action, comment, attachments, metadata, created_at
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval actions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *ActionRepository) scanRows(rows pgx.Rows) ([]workflow.ApprovalAction, error) {
	var actions []workflow.ApprovalAction
	for rows.Next() {
		var a workflow.ApprovalAction
		var attachmentsJSON, metadataJSON []byte
		err := rows.Scan(
			&a.ID,
			&a.RequestID,
			&a.StageID,
			&a.ApproverID,
			&a.Action,
			&a.Comment,
			&attachmentsJSON,
			&metadataJSON,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval action")
		}
		if len(attachmentsJSON) > 0 {
			if err := json.Unmarshal(attachmentsJSON, &a.Attachments); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal action attachments")
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal action metadata")
			}
		}
		actions = append(actions, a)
	}
	return actions, nil
}
