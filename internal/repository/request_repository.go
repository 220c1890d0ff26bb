package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// uniqueViolation is the postgres error code raised by the partial unique
// index enforcing one active request per target.
const uniqueViolation = "23505"

// RequestRepository stores approval requests. Two storage-level guarantees
// back the engine's concurrency contract: a partial unique index on
// (target_type, target_id) over active statuses enforces at most one
// in-flight request per target, and the version column serializes writers via
// optimistic locking.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request. Returns a conflict error when an active
// request already exists for the same target.
func (r *RequestRepository) Create(ctx context.Context, req *workflow.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (id, workflow_id, target_type, target_id, target_title,
		     requester_id, status, current_stage_id, priority, notes,
		     due_date, escalation_level, escalated_at, completed_at,
		     stage_entered_at, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11, $12, $13, $14,
		        $15, $16)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		req.WorkflowID,
		req.TargetType,
		req.TargetID,
		req.TargetTitle,
		req.RequesterID,
		req.Status,
		req.CurrentStageID,
		req.Priority,
		req.Notes,
		req.DueDate,
		req.EscalationLevel,
		req.EscalatedAt,
		req.CompletedAt,
		req.StageEnteredAt,
		req.Version,
	).Scan(&req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.New(errors.ErrCodeConflict, "an active approval request already exists for this target")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error) {
	req, err := r.scanRequest(r.db.QueryRow(ctx, selectRequest+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	return req, err
}

// GetActiveByTarget returns the in-flight request for a target, or nil.
func (r *RequestRepository) GetActiveByTarget(ctx context.Context, targetType workflow.TargetType, targetID string) (*workflow.ApprovalRequest, error) {
	query := selectRequest + `
		WHERE target_type = $1
		  AND target_id = $2
		  AND status IN ('pending', 'in_progress', 'escalated')
		ORDER BY created_at DESC
		LIMIT 1
	`
	req, err := r.scanRequest(r.db.QueryRow(ctx, query, targetType, targetID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// ListInFlight returns every request the timeout sweep must evaluate.
func (r *RequestRepository) ListInFlight(ctx context.Context) ([]*workflow.ApprovalRequest, error) {
	query := selectRequest + `
		WHERE status IN ('pending', 'in_progress', 'escalated')
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list in-flight requests")
	}
	defer rows.Close()

	var reqs []*workflow.ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// queryRower is satisfied by both *database.DB and pgx.Tx so the optimistic
// update can run standalone or inside a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Update persists a new request state computed by the engine. The WHERE
// clause on the previous version makes concurrent writers lose cleanly: the
// caller gets a conflict, re-fetches and may retry once.
func (r *RequestRepository) Update(ctx context.Context, req *workflow.ApprovalRequest) error {
	return updateRequest(ctx, r.db, req)
}

// UpdateWithAction persists the request state and its action log entry in one
// transaction: either both land or neither does. The optimistic version check
// still applies, so a concurrent writer rolls the action insert back too.
func (r *RequestRepository) UpdateWithAction(ctx context.Context, req *workflow.ApprovalRequest, a *workflow.ApprovalAction) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := updateRequest(ctx, tx, req); err != nil {
			return err
		}
		return insertAction(ctx, tx, a)
	})
}

func updateRequest(ctx context.Context, q queryRower, req *workflow.ApprovalRequest) error {
	query := `
		UPDATE approval_requests
		SET status           = $2,
		    current_stage_id = $3,
		    escalation_level = $4,
		    escalated_at     = $5,
		    completed_at     = $6,
		    stage_entered_at = $7,
		    version          = $8,
		    updated_at       = NOW()
		WHERE id = $1 AND version = $9
		RETURNING updated_at
	`

	err := q.QueryRow(ctx, query,
		req.ID,
		req.Status,
		req.CurrentStageID,
		req.EscalationLevel,
		req.EscalatedAt,
		req.CompletedAt,
		req.StageEnteredAt,
		req.Version,
		req.Version-1,
	).Scan(&req.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict, "approval request was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval request")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectRequest = `
	SELECT id, workflow_id, target_type, target_id, target_title,
	       requester_id, status, current_stage_id, priority, notes,
	       due_date, escalation_level, escalated_at, completed_at,
	       stage_entered_at, version, created_at, updated_at
	FROM approval_requests
`

func (r *RequestRepository) scanRequest(row rowScanner) (*workflow.ApprovalRequest, error) {
	req := &workflow.ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.WorkflowID,
		&req.TargetType,
		&req.TargetID,
		&req.TargetTitle,
		&req.RequesterID,
		&req.Status,
		&req.CurrentStageID,
		&req.Priority,
		&req.Notes,
		&req.DueDate,
		&req.EscalationLevel,
		&req.EscalatedAt,
		&req.CompletedAt,
		&req.StageEnteredAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
