package repository

import (
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// ── Storage-facing types ──────────────────────────────────────────────────────

// Artifact is a marketing artifact (campaign, journey, content piece or brand
// profile) whose lifecycle the state machine governs.
type Artifact struct {
	ID             string
	Type           workflow.TargetType
	Title          string
	OwnerID        string
	Status         approval.ArtifactStatus
	ApprovalStatus approval.ApprovalStatus
	ContentType    string  // fine-grained kind, read by skip conditions
	Budget         float64 // campaign budget, read by skip conditions
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TargetContext maps the artifact's attributes into the shape skip conditions
// evaluate.
func (a *Artifact) TargetContext(requesterRole string) workflow.TargetContext {
	return workflow.TargetContext{
		UserRole:    requesterRole,
		ContentType: a.ContentType,
		Budget:      a.Budget,
	}
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string
	TargetType   string
	TargetID     string
	RequestID    *string
	StageID      *string
	Action       string // submitted | approved | rejected | changes_requested | delegated | escalated | cancelled | expired | published | archived
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
}
