package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// ArtifactRepository stores the artifact records whose lifecycle status the
// state machine governs. The transition logic lives in the approval package;
// this layer only persists outcomes.
type ArtifactRepository struct {
	db *database.DB
}

// NewArtifactRepository creates a new ArtifactRepository.
func NewArtifactRepository(db *database.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create inserts a new artifact in draft.
func (r *ArtifactRepository) Create(ctx context.Context, a *Artifact) error {
	query := `
		INSERT INTO artifacts
		    (id, type, title, owner_id, status, approval_status,
		     content_type, budget)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.Type,
		a.Title,
		a.OwnerID,
		a.Status,
		a.ApprovalStatus,
		a.ContentType,
		a.Budget,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create artifact")
	}
	return nil
}

// GetByID retrieves an artifact by primary key.
func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*Artifact, error) {
	query := `
		SELECT id, type, title, owner_id, status, approval_status,
		       content_type, budget, created_at, updated_at
		FROM artifacts
		WHERE id = $1
	`

	a := &Artifact{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Type,
		&a.Title,
		&a.OwnerID,
		&a.Status,
		&a.ApprovalStatus,
		&a.ContentType,
		&a.Budget,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("artifact", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get artifact")
	}
	return a, nil
}

// UpdateStatus persists a state machine transition outcome. The approval
// status only changes when the transition produced one.
func (r *ArtifactRepository) UpdateStatus(ctx context.Context, id string, status approval.ArtifactStatus, approvalStatus *approval.ApprovalStatus) error {
	query := `
		UPDATE artifacts
		SET status          = $2,
		    approval_status = COALESCE($3, approval_status),
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, approvalStatus).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("artifact", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update artifact status")
	}
	return nil
}

// ListByOwner returns an owner's artifacts, optionally filtered by type.
func (r *ArtifactRepository) ListByOwner(ctx context.Context, ownerID string, targetType *workflow.TargetType) ([]*Artifact, error) {
	query := `
		SELECT id, type, title, owner_id, status, approval_status,
		       content_type, budget, created_at, updated_at
		FROM artifacts
		WHERE owner_id = $1
	`
	args := []any{ownerID}
	if targetType != nil {
		query += ` AND type = $2`
		args = append(args, *targetType)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list artifacts")
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a := &Artifact{}
		err := rows.Scan(
			&a.ID,
			&a.Type,
			&a.Title,
			&a.OwnerID,
			&a.Status,
			&a.ApprovalStatus,
			&a.ContentType,
			&a.Budget,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan artifact")
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
