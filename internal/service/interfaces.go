package service

import (
	"context"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/client"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// Store contracts the services depend on. The repository package implements
// them against postgres; tests swap in in-memory fakes.

// WorkflowStore loads workflow definitions.
type WorkflowStore interface {
	GetByID(ctx context.Context, id string) (*workflow.WorkflowDefinition, error)
	FindForTarget(ctx context.Context, targetType workflow.TargetType) (*workflow.WorkflowDefinition, error)
}

// RequestStore persists approval requests. Update must fail with a conflict
// when the stored version does not precede the written one, and Create must
// fail with a conflict when an active request already exists for the target.
// UpdateWithAction is atomic: on failure the action entry must not land.
type RequestStore interface {
	Create(ctx context.Context, req *workflow.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*workflow.ApprovalRequest, error)
	GetActiveByTarget(ctx context.Context, targetType workflow.TargetType, targetID string) (*workflow.ApprovalRequest, error)
	ListInFlight(ctx context.Context) ([]*workflow.ApprovalRequest, error)
	Update(ctx context.Context, req *workflow.ApprovalRequest) error
	UpdateWithAction(ctx context.Context, req *workflow.ApprovalRequest, a *workflow.ApprovalAction) error
}

// ActionStore appends and reads the immutable action log.
type ActionStore interface {
	Append(ctx context.Context, a *workflow.ApprovalAction) error
	ListByRequest(ctx context.Context, requestID string) ([]workflow.ApprovalAction, error)
}

// AuditStore appends and reads audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByTarget(ctx context.Context, targetType, targetID string) ([]*repository.AuditEntry, error)
}

// ArtifactStore persists artifacts and their lifecycle statuses.
type ArtifactStore interface {
	Create(ctx context.Context, a *repository.Artifact) error
	GetByID(ctx context.Context, id string) (*repository.Artifact, error)
	UpdateStatus(ctx context.Context, id string, status approval.ArtifactStatus, approvalStatus *approval.ApprovalStatus) error
	ListByOwner(ctx context.Context, ownerID string, targetType *workflow.TargetType) ([]*repository.Artifact, error)
}

// IdentityClientInterface answers approver-pool queries against the platform
// identity service.
type IdentityClientInterface interface {
	GetTeamMembers(ctx context.Context, workspaceID string) ([]client.TeamMember, error)
	GetUsersWithRole(ctx context.Context, role string) ([]string, error)
}

// DeliveryPublisher hands notification events to the external delivery
// pipeline. Implementations must be non-fatal: delivery failure never fails
// an approval operation.
type DeliveryPublisher interface {
	PublishEvent(ctx context.Context, event notification.Event)
}
