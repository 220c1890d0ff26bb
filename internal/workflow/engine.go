package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
)

// AdminAudience is the role pool notified on reject and escalate events.
const AdminAudience = "admin"

// Engine drives approval requests through their workflow stages. All methods
// are pure with respect to I/O: they compute the next request state, the
// action log entry and the notification batch, and the caller persists them.
// The caller must serialize calls per request (quorum counting is not
// commutative); requests are independent of each other.
type Engine struct {
	log *logger.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log}
}

// StartInput carries everything needed to open a request.
type StartInput struct {
	TargetType  TargetType
	TargetID    string
	TargetTitle string
	RequesterID string
	Notes       *string
	DueDate     *time.Time
	Priority    Priority
	Target      TargetContext
	Now         time.Time
}

// StartResult is the computed outcome of opening a request.
type StartResult struct {
	Request         *ApprovalRequest
	SkippedStageIDs []string
	Events          []notification.Event
}

// StartWorkflow creates an approval request positioned at the first
// actionable stage. Stages whose skip conditions match the target, and
// auto-approve stages, are cleared without approver action; if every stage
// clears this way the request is approved immediately.
//
// The caller is responsible for enforcing at most one in-flight request per
// (targetType, targetID) before invoking this.
func (e *Engine) StartWorkflow(wf *WorkflowDefinition, in StartInput) (*StartResult, error) {
	if !wf.IsActive {
		return nil, errors.New(errors.ErrCodeConflict, fmt.Sprintf("workflow %q is not active", wf.Name))
	}
	if !wf.AppliesTo(in.TargetType) {
		return nil, errors.InvalidInput("target_type",
			fmt.Sprintf("workflow %q does not apply to target type %q", wf.Name, in.TargetType))
	}
	if in.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester id is required")
	}

	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	req := &ApprovalRequest{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		TargetType:     in.TargetType,
		TargetID:       in.TargetID,
		TargetTitle:    in.TargetTitle,
		RequesterID:    in.RequesterID,
		Status:         RequestPending,
		Priority:       priority,
		Notes:          in.Notes,
		DueDate:        in.DueDate,
		StageEnteredAt: in.Now,
		Version:        1,
		CreatedAt:      in.Now,
		UpdatedAt:      in.Now,
	}

	stage, skipped := e.firstActionableStage(wf, wf.FirstStage(), in.Target)

	result := &StartResult{Request: req, SkippedStageIDs: skipped}
	result.Events = append(result.Events, notification.Event{
		Type:          notification.EventContentSubmitted,
		ArtifactTitle: in.TargetTitle,
		ActorName:     in.RequesterID,
		ResourceType:  string(in.TargetType),
		ResourceID:    in.TargetID,
		Recipients:    []string{in.RequesterID},
	})

	if stage == nil {
		// Every stage cleared without human action.
		req.Status = RequestApproved
		completed := in.Now
		req.CompletedAt = &completed
		result.Events = append(result.Events, notification.Event{
			Type:          notification.EventContentApproved,
			ArtifactTitle: in.TargetTitle,
			ActorName:     "system",
			ResourceType:  string(in.TargetType),
			ResourceID:    in.TargetID,
			Recipients:    []string{in.RequesterID},
		})
		return result, nil
	}

	stageID := stage.ID
	req.CurrentStageID = &stageID
	if len(skipped) > 0 {
		req.Status = RequestInProgress
	}

	result.Events = append(result.Events, notification.Event{
		Type:          notification.EventApprovalRequired,
		ArtifactTitle: in.TargetTitle,
		ActorName:     in.RequesterID,
		ResourceType:  string(in.TargetType),
		ResourceID:    in.TargetID,
		Recipients:    stage.Approvers,
		AudienceRoles: stage.ApproverRoles,
	})

	e.log.Debug().
		Str("request_id", req.ID).
		Str("workflow_id", wf.ID).
		Str("stage_id", stageID).
		Int("skipped_stages", len(skipped)).
		Msg("approval request opened")

	return result, nil
}

// ActionInput is one approver action against the current stage.
type ActionInput struct {
	StageID    string
	ApproverID string
	Action     ActionType
	Comment    string
	Metadata   ActionMetadata
	Target     TargetContext // artifact attributes, evaluated by skip conditions on advance
	Now        time.Time
}

// ActionResult is the computed outcome of processing an action.
type ActionResult struct {
	Request         *ApprovalRequest
	Action          *ApprovalAction
	StageAdvanced   bool
	SkippedStageIDs []string
	Completed       bool
	Events          []notification.Event
}

// ProcessAction validates and applies one approver action, returning the next
// request state, the append-only log entry and the notification batch.
// Prior actions for the request must be supplied so quorum and delegation can
// be derived; the engine never re-reads them from a store.
func (e *Engine) ProcessAction(wf *WorkflowDefinition, req *ApprovalRequest, prior []ApprovalAction, in ActionInput) (*ActionResult, error) {
	if !req.Status.IsActive() {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("request is %s and no longer accepts actions", req.Status))
	}
	if req.CurrentStageID == nil || in.StageID != *req.CurrentStageID {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("stage %q is not the request's current stage", in.StageID))
	}
	stage := wf.StageByID(in.StageID)
	if stage == nil {
		return nil, errors.NotFound("approval_stage", in.StageID)
	}
	if in.ApproverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver id is required")
	}

	next := req.Clone()
	next.UpdatedAt = in.Now
	next.Version++

	entry := &ApprovalAction{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		StageID:    stage.ID,
		ApproverID: in.ApproverID,
		Action:     in.Action,
		Metadata:   in.Metadata,
		CreatedAt:  in.Now,
	}
	if c := strings.TrimSpace(in.Comment); c != "" {
		entry.Comment = &c
	}

	result := &ActionResult{Request: next, Action: entry}

	switch in.Action {
	case ActionApprove:
		if err := e.applyApprove(wf, stage, next, prior, entry, in.Target, result); err != nil {
			return nil, err
		}
	case ActionReject, ActionRequestChanges:
		if entry.Comment == nil {
			return nil, errors.InvalidInput("comment", fmt.Sprintf("a comment is required to %s", in.Action))
		}
		if err := e.assertEligible(stage, prior, in.ApproverID); err != nil {
			return nil, err
		}
		e.applyTerminalRejection(next, entry, in.Now, result)
	case ActionDelegate:
		if in.Metadata.DelegateToID == "" {
			return nil, errors.InvalidInput("delegate_to_id", "delegation target is required")
		}
		if err := e.assertEligible(stage, prior, in.ApproverID); err != nil {
			return nil, err
		}
		// Delegation reassigns the slot only; the delegate must still submit
		// their own decision before anything counts toward quorum.
		if next.Status == RequestPending {
			next.Status = RequestInProgress
		}
		result.Events = append(result.Events, e.event(notification.EventApprovalDelegated, next, in.ApproverID,
			[]string{in.Metadata.DelegateToID}, nil, ""))
	case ActionEscalate:
		if in.Metadata.EscalationReason == "" {
			return nil, errors.InvalidInput("escalation_reason", "escalation reason is required")
		}
		e.applyEscalation(next, in.Now)
		result.Events = append(result.Events, e.event(notification.EventApprovalEscalated, next, in.ApproverID,
			[]string{next.RequesterID}, []string{AdminAudience}, in.Metadata.EscalationReason))
	default:
		return nil, errors.InvalidInput("action", fmt.Sprintf("unknown action %q", in.Action))
	}

	e.log.Debug().
		Str("request_id", req.ID).
		Str("stage_id", stage.ID).
		Str("action", string(in.Action)).
		Str("status", string(next.Status)).
		Msg("approval action processed")

	return result, nil
}

// applyApprove counts the new approval toward the stage's quorum and, when
// met, advances the request or completes it.
func (e *Engine) applyApprove(wf *WorkflowDefinition, stage *ApprovalStage, next *ApprovalRequest, prior []ApprovalAction, entry *ApprovalAction, target TargetContext, result *ActionResult) error {
	if err := e.assertEligible(stage, prior, entry.ApproverID); err != nil {
		return err
	}

	approved := distinctApprovers(stage.ID, prior)
	approved[entry.ApproverID] = true

	if !e.quorumMet(wf, stage, prior, approved) {
		if next.Status == RequestPending {
			next.Status = RequestInProgress
		}
		if remaining := remainingApprovers(stage, approved); len(remaining) > 0 {
			result.Events = append(result.Events, e.event(notification.EventApprovalRequired, next, entry.ApproverID,
				remaining, nil, ""))
		}
		return nil
	}

	// Quorum met: advance past any skippable stages or complete the request.
	nextStage, skipped := e.firstActionableStage(wf, wf.StageAfter(stage.Order), target)
	result.SkippedStageIDs = skipped

	now := entry.CreatedAt
	if nextStage == nil {
		next.Status = RequestApproved
		next.CurrentStageID = nil
		next.CompletedAt = &now
		result.Completed = true
		result.Events = append(result.Events, e.event(notification.EventContentApproved, next, entry.ApproverID,
			[]string{next.RequesterID}, nil, ""))
		return nil
	}

	stageID := nextStage.ID
	next.CurrentStageID = &stageID
	next.StageEnteredAt = now
	next.Status = RequestInProgress
	result.StageAdvanced = true
	result.Events = append(result.Events, e.event(notification.EventApprovalRequired, next, entry.ApproverID,
		nextStage.Approvers, nextStage.ApproverRoles, ""))
	return nil
}

// applyTerminalRejection fails the whole request. A single reject at any
// stage terminates it regardless of prior stage quorums; request_changes is
// carried in the action verb, not the request status vocabulary.
func (e *Engine) applyTerminalRejection(next *ApprovalRequest, entry *ApprovalAction, now time.Time, result *ActionResult) {
	next.Status = RequestRejected
	next.CurrentStageID = nil
	next.CompletedAt = &now

	eventType := notification.EventContentRejected
	audience := []string{AdminAudience}
	if entry.Action == ActionRequestChanges {
		eventType = notification.EventChangesRequested
		audience = nil
	}
	detail := ""
	if entry.Comment != nil {
		detail = *entry.Comment
	}
	result.Events = append(result.Events, e.event(eventType, next, entry.ApproverID,
		[]string{next.RequesterID}, audience, detail))
}

// applyEscalation raises visibility without terminating the workflow. The
// stage pointer is untouched and quorum is unaffected.
func (e *Engine) applyEscalation(next *ApprovalRequest, now time.Time) {
	next.EscalationLevel++
	next.EscalatedAt = &now
	next.Status = RequestEscalated
}

// firstActionableStage walks forward from start, clearing stages whose skip
// conditions match the target or that auto-approve. Returns nil when no
// actionable stage remains.
func (e *Engine) firstActionableStage(wf *WorkflowDefinition, start *ApprovalStage, target TargetContext) (*ApprovalStage, []string) {
	var skipped []string
	stage := start
	for stage != nil && (stage.AutoApprove || stageSkipped(stage, target)) {
		skipped = append(skipped, stage.ID)
		stage = wf.StageAfter(stage.Order)
	}
	return stage, skipped
}

// stageSkipped reports whether ANY of the stage's skip conditions matches.
func stageSkipped(stage *ApprovalStage, target TargetContext) bool {
	for _, c := range stage.SkipConditions {
		if conditionMatches(c, target) {
			return true
		}
	}
	return false
}

func conditionMatches(c SkipCondition, target TargetContext) bool {
	switch c.Type {
	case SkipOnUserRole:
		return compareString(target.UserRole, c.Operator, c.Value)
	case SkipOnContentType:
		return compareString(target.ContentType, c.Operator, c.Value)
	case SkipOnBudgetThreshold:
		return compareNumber(target.Budget, c.Operator, c.Value)
	case SkipOnCustom:
		return compareString(target.Custom[c.Field], c.Operator, c.Value)
	}
	return false
}

func compareString(actual string, op SkipOperator, expected string) bool {
	switch op {
	case OpEquals:
		return actual == expected
	case OpNotEquals:
		return actual != expected
	case OpContains:
		return strings.Contains(actual, expected)
	}
	return false
}

func compareNumber(actual float64, op SkipOperator, expected string) bool {
	threshold, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	switch op {
	case OpEquals:
		return actual == threshold
	case OpNotEquals:
		return actual != threshold
	case OpGreaterThan:
		return actual > threshold
	case OpLessThan:
		return actual < threshold
	}
	return false
}

// distinctApprovers returns the set of distinct approver ids whose approve
// action already landed on the stage. Duplicate approvals by one user never
// double-count.
func distinctApprovers(stageID string, actions []ApprovalAction) map[string]bool {
	set := make(map[string]bool)
	for _, a := range actions {
		if a.StageID == stageID && a.Action == ActionApprove {
			set[a.ApproverID] = true
		}
	}
	return set
}

// delegations maps delegator to delegate for the stage.
func delegations(stageID string, actions []ApprovalAction) map[string]string {
	m := make(map[string]string)
	for _, a := range actions {
		if a.StageID == stageID && a.Action == ActionDelegate && a.Metadata.DelegateToID != "" {
			m[a.ApproverID] = a.Metadata.DelegateToID
		}
	}
	return m
}

// quorumMet applies the workflow's quorum rule: every listed approver when
// RequireAllApprovers is set (delegates satisfy their delegator's slot),
// otherwise the stage's distinct-approver count.
func (e *Engine) quorumMet(wf *WorkflowDefinition, stage *ApprovalStage, prior []ApprovalAction, approved map[string]bool) bool {
	if wf.RequireAllApprovers && len(stage.Approvers) > 0 {
		deleg := delegations(stage.ID, prior)
		for _, id := range stage.Approvers {
			if !slotSatisfied(id, approved, deleg) {
				return false
			}
		}
		return true
	}
	return len(approved) >= stage.ApproversRequired
}

// slotSatisfied follows the delegation chain from id until an approval is
// found or the chain ends. A visited set guards against delegation cycles.
func slotSatisfied(id string, approved map[string]bool, deleg map[string]string) bool {
	visited := make(map[string]bool)
	for id != "" && !visited[id] {
		if approved[id] {
			return true
		}
		visited[id] = true
		id = deleg[id]
	}
	return false
}

// assertEligible checks that the actor may act on this stage. Explicit
// approver lists restrict actions to members and their delegates; role-pool
// stages accept anyone (role checks happen at the identity boundary).
func (e *Engine) assertEligible(stage *ApprovalStage, prior []ApprovalAction, approverID string) error {
	if len(stage.Approvers) == 0 {
		return nil
	}
	for _, id := range stage.Approvers {
		if id == approverID {
			return nil
		}
	}
	for _, delegate := range delegations(stage.ID, prior) {
		if delegate == approverID {
			return nil
		}
	}
	return errors.Unauthorized("user is not an approver for this stage")
}

func remainingApprovers(stage *ApprovalStage, approved map[string]bool) []string {
	var remaining []string
	for _, id := range stage.Approvers {
		if !approved[id] {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

func (e *Engine) event(t notification.EventType, req *ApprovalRequest, actor string, recipients, audience []string, detail string) notification.Event {
	return notification.Event{
		Type:          t,
		ArtifactTitle: req.TargetTitle,
		ActorName:     actor,
		ResourceType:  string(req.TargetType),
		ResourceID:    req.TargetID,
		Detail:        detail,
		Recipients:    recipients,
		AudienceRoles: audience,
	}
}
