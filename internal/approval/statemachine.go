package approval

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
)

// ArtifactStatus is the content-level lifecycle status of a single artifact
// (campaign, journey, content piece or brand profile).
type ArtifactStatus string

const (
	StatusDraft         ArtifactStatus = "draft"
	StatusGenerating    ArtifactStatus = "generating"
	StatusGenerated     ArtifactStatus = "generated"
	StatusPendingReview ArtifactStatus = "pending_review"
	StatusApproved      ArtifactStatus = "approved"
	StatusRejected      ArtifactStatus = "rejected"
	StatusPublished     ArtifactStatus = "published"
	StatusArchived      ArtifactStatus = "archived"
)

// ApprovalStatus is the artifact's review outcome, tracked as a separate axis
// from ArtifactStatus. An artifact can be draft+rejected after a failed
// revision cycle.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "pending"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalRejected      ApprovalStatus = "rejected"
	ApprovalNeedsRevision ApprovalStatus = "needs_revision"
)

// Action is a transition verb on the artifact state machine.
type Action string

const (
	ActionSubmitForReview Action = "submit_for_review"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionRequestRevision Action = "request_revision"
	ActionPublish         Action = "publish"
	ActionRevertToDraft   Action = "revert_to_draft"
	ActionArchive         Action = "archive"
)

// TransitionContext carries the resolved identity and input for a guard check.
type TransitionContext struct {
	UserID    string
	Role      Role
	Overrides Overrides
	Comment   string
}

// TransitionResult is the computed outcome of a valid transition. The caller
// persists NewStatus (and NewApprovalStatus when non-nil) and records the
// audit entry; the state machine performs no I/O.
type TransitionResult struct {
	NewStatus         ArtifactStatus
	NewApprovalStatus *ApprovalStatus
}

// transition is one row of the transition table.
type transition struct {
	to              ArtifactStatus
	approvalStatus  *ApprovalStatus
	allowedRoles    []Role     // nil: any role may perform the action
	capability      Capability // override-grantable equivalent of allowedRoles
	requiresComment bool
}

func approvalStatusPtr(s ApprovalStatus) *ApprovalStatus { return &s }

// transitions is the full (status, action) table. Pairs absent here are
// invalid transitions.
var transitions = map[ArtifactStatus]map[Action]transition{
	StatusDraft: {
		ActionSubmitForReview: {to: StatusPendingReview, approvalStatus: approvalStatusPtr(ApprovalPending)},
		ActionArchive:         {to: StatusArchived},
	},
	StatusPendingReview: {
		ActionApprove: {
			to:           StatusApproved,
			allowedRoles: []Role{RoleApprover, RoleAdmin},
			capability:   CanApproveContent,
		},
		ActionReject: {
			to:              StatusDraft,
			approvalStatus:  approvalStatusPtr(ApprovalRejected),
			allowedRoles:    []Role{RoleApprover, RoleAdmin},
			capability:      CanApproveContent,
			requiresComment: true,
		},
		ActionRequestRevision: {
			to:              StatusDraft,
			approvalStatus:  approvalStatusPtr(ApprovalNeedsRevision),
			allowedRoles:    []Role{RoleApprover, RoleAdmin},
			capability:      CanApproveContent,
			requiresComment: true,
		},
	},
	StatusApproved: {
		ActionPublish: {
			to:           StatusPublished,
			allowedRoles: []Role{RolePublisher, RoleAdmin},
			capability:   CanPublishContent,
		},
		ActionRevertToDraft: {
			to:           StatusDraft,
			allowedRoles: []Role{RoleApprover, RoleAdmin},
			capability:   CanApproveContent,
		},
	},
	StatusPublished: {
		ActionArchive: {to: StatusArchived},
	},
}

// CanTransition validates a transition without side effects. It returns the
// result the transition would produce, or a coded error: INVALID_TRANSITION
// when the (status, action) pair is not in the table, UNAUTHORIZED when the
// role guard fails, INVALID_INPUT when a required comment is missing. The
// three failure kinds are distinguishable so UIs can render the right
// affordance (hidden vs disabled vs needs-input).
func CanTransition(current ArtifactStatus, action Action, ctx TransitionContext) (*TransitionResult, error) {
	actions, ok := transitions[current]
	if !ok {
		return nil, errors.InvalidTransition(fmt.Sprintf("no actions are valid for state %q", current))
	}
	t, ok := actions[action]
	if !ok {
		return nil, errors.InvalidTransition(fmt.Sprintf("action %q is not valid for state %q", action, current))
	}

	if t.allowedRoles != nil && !roleAllowed(t, ctx) {
		return nil, errors.Unauthorized(fmt.Sprintf("user does not have permission to %s", action))
	}
	if t.requiresComment && strings.TrimSpace(ctx.Comment) == "" {
		return nil, errors.InvalidInput("comment", fmt.Sprintf("action %q requires a comment", action))
	}

	return &TransitionResult{NewStatus: t.to, NewApprovalStatus: t.approvalStatus}, nil
}

// ExecuteTransition validates and returns the transition result. It is
// identical to CanTransition in computation; it exists so callers can signal
// intent — an execute is expected to be followed by persisting the result and
// appending an audit entry.
func ExecuteTransition(current ArtifactStatus, action Action, ctx TransitionContext) (*TransitionResult, error) {
	return CanTransition(current, action, ctx)
}

// GetAvailableActions returns the actions valid from status for the given
// role. Comment-gated actions are probed with a synthetic non-empty comment
// so they appear whenever the role guard passes.
func GetAvailableActions(status ArtifactStatus, role Role) []Action {
	actions, ok := transitions[status]
	if !ok {
		return nil
	}

	ctx := TransitionContext{Role: role, Comment: "-"}
	available := make([]Action, 0, len(actions))
	for _, action := range actionOrder {
		if _, defined := actions[action]; !defined {
			continue
		}
		if _, err := CanTransition(status, action, ctx); err == nil {
			available = append(available, action)
		}
	}
	return available
}

// actionOrder keeps GetAvailableActions output deterministic.
var actionOrder = []Action{
	ActionSubmitForReview,
	ActionApprove,
	ActionReject,
	ActionRequestRevision,
	ActionPublish,
	ActionRevertToDraft,
	ActionArchive,
}

func roleAllowed(t transition, ctx TransitionContext) bool {
	for _, r := range t.allowedRoles {
		if ctx.Role == r {
			return true
		}
	}
	// An explicit capability override can stand in for role membership.
	if t.capability != "" && ctx.Overrides != nil {
		if granted, ok := ctx.Overrides[t.capability]; ok && granted {
			return true
		}
	}
	return false
}
