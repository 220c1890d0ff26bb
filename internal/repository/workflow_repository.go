package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-mkt-approvals/internal/database"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// WorkflowRepository stores workflow definitions. Stages are first-class
// typed structures in memory; they serialize to JSONB only at this boundary.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow definition.
func (r *WorkflowRepository) Create(ctx context.Context, wf *workflow.WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return err
	}

	stagesJSON, err := json.Marshal(wf.Stages)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow stages")
	}
	targetsJSON, err := json.Marshal(wf.TargetTypes)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow target types")
	}

	query := `
		INSERT INTO approval_workflows
		    (id, name, target_types, stages,
		     auto_start, allow_parallel_stages, require_all_approvers,
		     default_timeout_hours, is_active)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7,
		        $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name                  = EXCLUDED.name,
		    target_types          = EXCLUDED.target_types,
		    stages                = EXCLUDED.stages,
		    auto_start            = EXCLUDED.auto_start,
		    allow_parallel_stages = EXCLUDED.allow_parallel_stages,
		    require_all_approvers = EXCLUDED.require_all_approvers,
		    default_timeout_hours = EXCLUDED.default_timeout_hours,
		    is_active             = EXCLUDED.is_active,
		    updated_at            = NOW()
		RETURNING created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		wf.ID,
		wf.Name,
		targetsJSON,
		stagesJSON,
		wf.AutoStart,
		wf.AllowParallelStages,
		wf.RequireAllApprovers,
		wf.DefaultTimeoutHours,
		wf.IsActive,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
}

// GetByID retrieves a definition by primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, target_types, stages,
		       auto_start, allow_parallel_stages, require_all_approvers,
		       default_timeout_hours, is_active,
		       created_at, updated_at
		FROM approval_workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow", id)
	}
	return wf, err
}

// ListActive returns all active definitions.
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*workflow.WorkflowDefinition, error) {
	query := `
		SELECT id, name, target_types, stages,
		       auto_start, allow_parallel_stages, require_all_approvers,
		       default_timeout_hours, is_active,
		       created_at, updated_at
		FROM approval_workflows
		WHERE is_active = TRUE
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var defs []*workflow.WorkflowDefinition
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		defs = append(defs, wf)
	}
	return defs, nil
}

// FindForTarget returns the first active definition applicable to the target
// type, or nil when none applies.
func (r *WorkflowRepository) FindForTarget(ctx context.Context, targetType workflow.TargetType) (*workflow.WorkflowDefinition, error) {
	defs, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, wf := range defs {
		if wf.AppliesTo(targetType) {
			return wf, nil
		}
	}
	return nil, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*workflow.WorkflowDefinition, error) {
	wf := &workflow.WorkflowDefinition{}
	var targetsJSON, stagesJSON []byte
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&targetsJSON,
		&stagesJSON,
		&wf.AutoStart,
		&wf.AllowParallelStages,
		&wf.RequireAllApprovers,
		&wf.DefaultTimeoutHours,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(targetsJSON, &wf.TargetTypes); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow target types")
	}
	if err := json.Unmarshal(stagesJSON, &wf.Stages); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow stages")
	}
	return wf, nil
}
