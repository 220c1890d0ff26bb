package workflow

import (
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
)

// TargetType identifies the kind of marketing artifact a workflow applies to.
type TargetType string

const (
	TargetCampaign TargetType = "campaign"
	TargetJourney  TargetType = "journey"
	TargetContent  TargetType = "content"
	TargetBrand    TargetType = "brand"
)

// RequestStatus is the lifecycle status of an approval request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestApproved   RequestStatus = "approved"
	RequestRejected   RequestStatus = "rejected"
	RequestCancelled  RequestStatus = "cancelled"
	RequestExpired    RequestStatus = "expired"
	RequestEscalated  RequestStatus = "escalated"
)

// IsTerminal reports whether no further actions are accepted.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestApproved, RequestRejected, RequestCancelled, RequestExpired:
		return true
	}
	return false
}

// IsActive reports whether the request still accepts approver actions.
func (s RequestStatus) IsActive() bool {
	switch s {
	case RequestPending, RequestInProgress, RequestEscalated:
		return true
	}
	return false
}

// Priority orders requests by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ActionType is a verb an approver submits against the current stage.
type ActionType string

const (
	ActionApprove        ActionType = "approve"
	ActionReject         ActionType = "reject"
	ActionRequestChanges ActionType = "request_changes"
	ActionDelegate       ActionType = "delegate"
	ActionEscalate       ActionType = "escalate"
)

// SkipConditionType names the target-context field a skip condition reads.
type SkipConditionType string

const (
	SkipOnUserRole        SkipConditionType = "user_role"
	SkipOnContentType     SkipConditionType = "content_type"
	SkipOnBudgetThreshold SkipConditionType = "budget_threshold"
	SkipOnCustom          SkipConditionType = "custom"
)

// SkipOperator is one of the fixed comparison operators. This is deliberately
// a small closed set, not an extensible rule language.
type SkipOperator string

const (
	OpEquals      SkipOperator = "equals"
	OpNotEquals   SkipOperator = "not_equals"
	OpGreaterThan SkipOperator = "greater_than"
	OpLessThan    SkipOperator = "less_than"
	OpContains    SkipOperator = "contains"
)

// SkipCondition bypasses a stage when it matches the target's attributes.
// Field is only consulted for the custom type.
type SkipCondition struct {
	Type     SkipConditionType `json:"type" yaml:"type"`
	Field    string            `json:"field,omitempty" yaml:"field,omitempty"`
	Operator SkipOperator      `json:"operator" yaml:"operator"`
	Value    string            `json:"value" yaml:"value"`
}

// TargetContext is the artifact attribute snapshot skip conditions evaluate
// against. Custom holds free-form attributes keyed by field name.
type TargetContext struct {
	UserRole    string
	ContentType string
	Budget      float64
	Custom      map[string]string
}

// ApprovalStage is one ordered checkpoint in a workflow definition. A stage
// is a template: running requests track their own counters against it and
// never mutate it.
type ApprovalStage struct {
	ID                string          `json:"id" yaml:"id"`
	Order             int             `json:"order" yaml:"order"`
	Name              string          `json:"name" yaml:"name"`
	ApproversRequired int             `json:"approvers_required" yaml:"approvers_required"`
	Approvers         []string        `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	ApproverRoles     []string        `json:"approver_roles,omitempty" yaml:"approver_roles,omitempty"`
	AutoApprove       bool            `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty"`
	TimeoutHours      *int            `json:"timeout_hours,omitempty" yaml:"timeout_hours,omitempty"`
	SkipConditions    []SkipCondition `json:"skip_conditions,omitempty" yaml:"skip_conditions,omitempty"`
}

// Timeout returns the stage timeout, falling back to the workflow default.
func (s *ApprovalStage) Timeout(wf *WorkflowDefinition) time.Duration {
	hours := wf.DefaultTimeoutHours
	if s.TimeoutHours != nil {
		hours = *s.TimeoutHours
	}
	return time.Duration(hours) * time.Hour
}

// WorkflowDefinition is the immutable template an approval request runs
// against. Stages are ordered by Order (0-based, unique within a workflow).
type WorkflowDefinition struct {
	ID                  string          `json:"id" yaml:"id"`
	Name                string          `json:"name" yaml:"name"`
	TargetTypes         []TargetType    `json:"target_types" yaml:"target_types"`
	Stages              []ApprovalStage `json:"stages" yaml:"stages"`
	AutoStart           bool            `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
	AllowParallelStages bool            `json:"allow_parallel_stages,omitempty" yaml:"allow_parallel_stages,omitempty"`
	RequireAllApprovers bool            `json:"require_all_approvers,omitempty" yaml:"require_all_approvers,omitempty"`
	DefaultTimeoutHours int             `json:"default_timeout_hours" yaml:"default_timeout_hours"`
	IsActive            bool            `json:"is_active" yaml:"is_active"`
	CreatedAt           time.Time       `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt           time.Time       `json:"updated_at,omitempty" yaml:"-"`
}

// AppliesTo reports whether the workflow covers the given target type.
func (wf *WorkflowDefinition) AppliesTo(t TargetType) bool {
	for _, tt := range wf.TargetTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// StageByID looks up a stage by id.
func (wf *WorkflowDefinition) StageByID(id string) *ApprovalStage {
	for i := range wf.Stages {
		if wf.Stages[i].ID == id {
			return &wf.Stages[i]
		}
	}
	return nil
}

// StageAfter returns the stage following the given order, or nil at the end.
func (wf *WorkflowDefinition) StageAfter(order int) *ApprovalStage {
	var next *ApprovalStage
	for i := range wf.Stages {
		s := &wf.Stages[i]
		if s.Order > order && (next == nil || s.Order < next.Order) {
			next = s
		}
	}
	return next
}

// FirstStage returns the stage with the lowest order.
func (wf *WorkflowDefinition) FirstStage() *ApprovalStage {
	var first *ApprovalStage
	for i := range wf.Stages {
		s := &wf.Stages[i]
		if first == nil || s.Order < first.Order {
			first = s
		}
	}
	return first
}

// Validate checks structural invariants of a definition.
func (wf *WorkflowDefinition) Validate() error {
	if wf.Name == "" {
		return errors.InvalidInput("name", "workflow name is required")
	}
	if len(wf.TargetTypes) == 0 {
		return errors.InvalidInput("target_types", "workflow must apply to at least one target type")
	}
	if len(wf.Stages) == 0 {
		return errors.InvalidInput("stages", "workflow must have at least one stage")
	}
	seen := make(map[int]bool, len(wf.Stages))
	for i := range wf.Stages {
		s := &wf.Stages[i]
		if seen[s.Order] {
			return errors.InvalidInput("stages", "stage orders must be unique within a workflow")
		}
		seen[s.Order] = true
		if s.ApproversRequired < 1 {
			return errors.InvalidInput("approvers_required", "stage quorum must be at least 1")
		}
		if len(s.Approvers) == 0 && len(s.ApproverRoles) == 0 && !s.AutoApprove {
			return errors.InvalidInput("approvers", "stage needs an approver list, a role pool, or auto_approve")
		}
	}
	return nil
}

// ActionMetadata carries action-specific parameters.
type ActionMetadata struct {
	DelegateToID     string `json:"delegate_to_id,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`
}

// ApprovalAction is one immutable entry in a request's action log. The
// request's derived state is a fold over its actions plus stage definitions.
type ApprovalAction struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	StageID     string         `json:"stage_id"`
	ApproverID  string         `json:"approver_id"`
	Action      ActionType     `json:"action"`
	Comment     *string        `json:"comment,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Metadata    ActionMetadata `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ApprovalRequest is a running (or finished) pass through a workflow.
// Invariant: CurrentStageID is non-nil iff the status is active.
type ApprovalRequest struct {
	ID              string        `json:"id"`
	WorkflowID      string        `json:"workflow_id"`
	TargetType      TargetType    `json:"target_type"`
	TargetID        string        `json:"target_id"`
	TargetTitle     string        `json:"target_title"`
	RequesterID     string        `json:"requester_id"`
	Status          RequestStatus `json:"status"`
	CurrentStageID  *string       `json:"current_stage_id,omitempty"`
	Priority        Priority      `json:"priority"`
	Notes           *string       `json:"notes,omitempty"`
	DueDate         *time.Time    `json:"due_date,omitempty"`
	EscalationLevel int           `json:"escalation_level"`
	EscalatedAt     *time.Time    `json:"escalated_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	StageEnteredAt  time.Time     `json:"stage_entered_at"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Clone returns a shallow copy with its own pointer fields, so engine
// computations never mutate the caller's request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	c := *r
	if r.CurrentStageID != nil {
		id := *r.CurrentStageID
		c.CurrentStageID = &id
	}
	if r.Notes != nil {
		n := *r.Notes
		c.Notes = &n
	}
	if r.DueDate != nil {
		d := *r.DueDate
		c.DueDate = &d
	}
	if r.EscalatedAt != nil {
		e := *r.EscalatedAt
		c.EscalatedAt = &e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
