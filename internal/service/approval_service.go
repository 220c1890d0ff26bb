package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/metrics"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/routing"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// ApprovalService orchestrates the multi-stage approval workflow. The
// workflow engine computes state transitions and effects; this layer loads
// state, persists the results, keeps the artifact-level state machine in
// sync, writes the audit trail and fans out notifications.
//
// Per-request serialization relies on the request store's optimistic version
// check: a concurrent writer loses with a conflict and the API layer may
// retry once against fresh state.
type ApprovalService struct {
	workflowStore WorkflowStore
	requestStore  RequestStore
	actionStore   ActionStore
	auditStore    AuditStore
	artifactStore ArtifactStore
	identity      IdentityClientInterface
	publisher     DeliveryPublisher
	notifier      *notification.Service
	engine        *workflow.Engine
	router        *routing.Engine
	workspaceID   string
	log           *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	workflowStore WorkflowStore,
	requestStore RequestStore,
	actionStore ActionStore,
	auditStore AuditStore,
	artifactStore ArtifactStore,
	identity IdentityClientInterface,
	publisher DeliveryPublisher,
	notifier *notification.Service,
	engine *workflow.Engine,
	router *routing.Engine,
	workspaceID string,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		workflowStore: workflowStore,
		requestStore:  requestStore,
		actionStore:   actionStore,
		auditStore:    auditStore,
		artifactStore: artifactStore,
		identity:      identity,
		publisher:     publisher,
		notifier:      notifier,
		engine:        engine,
		router:        router,
		workspaceID:   workspaceID,
		log:           log,
	}
}

// ── Submission ────────────────────────────────────────────────────────────────

// SubmitInput opens an approval request for an artifact.
type SubmitInput struct {
	ArtifactID    string
	WorkflowID    string // optional; resolved by target type when empty
	RequesterID   string
	RequesterRole approval.Role
	Notes         *string
	DueDate       *time.Time
	Priority      workflow.Priority
}

// SubmitResult is the submission outcome, including the routing
// recommendation for the opening stage when one was computed.
type SubmitResult struct {
	Request *workflow.ApprovalRequest
	Routing *routing.Decision
}

// SubmitForApproval moves the artifact into review and opens a workflow
// request positioned at its first actionable stage.
func (s *ApprovalService) SubmitForApproval(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	artifact, err := s.artifactStore.GetByID(ctx, in.ArtifactID)
	if err != nil {
		return nil, err
	}

	// Artifact-level gate first: only draft artifacts can be submitted.
	transition, err := approval.ExecuteTransition(artifact.Status, approval.ActionSubmitForReview, approval.TransitionContext{
		UserID: in.RequesterID,
		Role:   in.RequesterRole,
	})
	if err != nil {
		return nil, err
	}

	if active, err := s.requestStore.GetActiveByTarget(ctx, artifact.Type, artifact.ID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, errors.New(errors.ErrCodeConflict, "an active approval request already exists for this artifact")
	}

	wf, err := s.resolveWorkflow(ctx, in.WorkflowID, artifact.Type)
	if err != nil {
		return nil, err
	}

	started, err := s.engine.StartWorkflow(wf, workflow.StartInput{
		TargetType:  artifact.Type,
		TargetID:    artifact.ID,
		TargetTitle: artifact.Title,
		RequesterID: in.RequesterID,
		Notes:       in.Notes,
		DueDate:     in.DueDate,
		Priority:    in.Priority,
		Target:      artifact.TargetContext(in.RequesterRole.String()),
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.requestStore.Create(ctx, started.Request); err != nil {
		return nil, err
	}

	// Every stage can clear at submission time (auto-approve stages or
	// matching skip conditions). The request then opens terminally approved
	// and the artifact follows it straight through instead of sitting in
	// review with nothing left to act on. The approve transition runs as the
	// system actor since the requester may not hold the approver role.
	if started.Request.Status == workflow.RequestApproved {
		approved, err := approval.ExecuteTransition(transition.NewStatus, approval.ActionApprove, approval.TransitionContext{
			UserID:    workflow.SystemActorID,
			Overrides: approval.Overrides{approval.CanApproveContent: true},
		})
		if err != nil {
			return nil, err
		}
		transition = approved
		metrics.RequestsCompleted.WithLabelValues(string(workflow.RequestApproved)).Inc()
	}
	if err := s.artifactStore.UpdateStatus(ctx, artifact.ID, transition.NewStatus, transition.NewApprovalStatus); err != nil {
		return nil, err
	}

	result := &SubmitResult{Request: started.Request}
	auditMeta := map[string]interface{}{"workflow_id": wf.ID}
	if len(started.SkippedStageIDs) > 0 {
		auditMeta["skipped_stages"] = started.SkippedStageIDs
	}

	// Ask the routing engine who should act on the opening stage; its picks
	// become the approval_required recipients for role-pool stages.
	if started.Request.CurrentStageID != nil {
		stage := wf.StageByID(*started.Request.CurrentStageID)
		if decision := s.routeStage(ctx, wf, started.Request, stage); decision != nil {
			result.Routing = decision
			auditMeta["routing_reasoning"] = decision.Reasoning
			for i := range started.Events {
				ev := &started.Events[i]
				if ev.Type == notification.EventApprovalRequired && len(ev.Recipients) == 0 {
					ev.Recipients = decision.TargetApprovers
				}
			}
		}
	}

	statusBefore := string(artifact.Status)
	statusAfter := string(transition.NewStatus)
	s.appendAudit(ctx, &repository.AuditEntry{
		TargetType:   string(artifact.Type),
		TargetID:     artifact.ID,
		RequestID:    &started.Request.ID,
		Action:       "submitted",
		PerformedBy:  in.RequesterID,
		StatusBefore: &statusBefore,
		StatusAfter:  &statusAfter,
		Metadata:     auditMeta,
	})

	s.fanOut(ctx, started.Events)

	s.log.Info().
		Str("artifact_id", artifact.ID).
		Str("request_id", started.Request.ID).
		Str("workflow_id", wf.ID).
		Str("status", string(started.Request.Status)).
		Msg("Artifact submitted for approval")

	return result, nil
}

// ── Approver actions ──────────────────────────────────────────────────────────

// ActInput is one approver action against a request's current stage.
type ActInput struct {
	RequestID    string
	StageID      string
	ApproverID   string
	ApproverRole approval.Role
	Action       workflow.ActionType
	Comment      string
	Metadata     workflow.ActionMetadata
}

// ProcessApprovalAction validates, applies and persists one approver action.
func (s *ApprovalService) ProcessApprovalAction(ctx context.Context, in ActInput) (*workflow.ActionResult, error) {
	req, err := s.requestStore.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflowStore.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	artifact, err := s.artifactStore.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	if err := s.assertRoleEligible(wf, in); err != nil {
		return nil, err
	}

	prior, err := s.actionStore.ListByRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.ProcessAction(wf, req, prior, workflow.ActionInput{
		StageID:    in.StageID,
		ApproverID: in.ApproverID,
		Action:     in.Action,
		Comment:    in.Comment,
		Metadata:   in.Metadata,
		Target:     artifact.TargetContext(in.ApproverRole.String()),
		Now:        time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	// The request state and its log entry land in one transaction; a
	// concurrent writer rolls both back via the version check.
	if err := s.requestStore.UpdateWithAction(ctx, result.Request, result.Action); err != nil {
		return nil, err
	}

	statusAfter := s.syncArtifact(ctx, artifact, in, result)

	statusBefore := string(artifact.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		TargetType:   string(req.TargetType),
		TargetID:     req.TargetID,
		RequestID:    &req.ID,
		StageID:      &in.StageID,
		Action:       string(in.Action),
		PerformedBy:  in.ApproverID,
		StatusBefore: &statusBefore,
		StatusAfter:  statusAfter,
		Metadata: map[string]interface{}{
			"request_status":   string(result.Request.Status),
			"stage_advanced":   result.StageAdvanced,
			"escalation_level": result.Request.EscalationLevel,
		},
	})

	metrics.ActionsProcessed.WithLabelValues(string(in.Action)).Inc()
	if result.Request.Status.IsTerminal() {
		metrics.RequestsCompleted.WithLabelValues(string(result.Request.Status)).Inc()
	}

	// A newly opened role-pool stage gets its recipients from routing.
	if result.StageAdvanced && result.Request.CurrentStageID != nil {
		stage := wf.StageByID(*result.Request.CurrentStageID)
		if decision := s.routeStage(ctx, wf, result.Request, stage); decision != nil {
			for i := range result.Events {
				ev := &result.Events[i]
				if ev.Type == notification.EventApprovalRequired && len(ev.Recipients) == 0 {
					ev.Recipients = decision.TargetApprovers
				}
			}
		}
	}

	s.fanOut(ctx, result.Events)

	s.log.Info().
		Str("request_id", req.ID).
		Str("action", string(in.Action)).
		Str("approver_id", in.ApproverID).
		Str("status", string(result.Request.Status)).
		Msg("Approval action processed")

	return result, nil
}

// assertRoleEligible enforces the role pool on stages without an explicit
// approver list. Admins always pass; the engine handles explicit lists.
func (s *ApprovalService) assertRoleEligible(wf *workflow.WorkflowDefinition, in ActInput) error {
	if in.Action == workflow.ActionEscalate {
		// Anyone involved may raise visibility.
		return nil
	}
	stage := wf.StageByID(in.StageID)
	if stage == nil || len(stage.Approvers) > 0 || len(stage.ApproverRoles) == 0 {
		return nil
	}
	if in.ApproverRole == approval.RoleAdmin {
		return nil
	}
	for _, role := range stage.ApproverRoles {
		if role == in.ApproverRole.String() {
			return nil
		}
	}
	return errors.Unauthorized(fmt.Sprintf("role %q is not in the stage's approver pool", in.ApproverRole))
}

// syncArtifact carries a terminal workflow outcome into the artifact's own
// state machine. request_changes maps to request_revision so the artifact
// lands on needs_revision rather than plain rejected.
func (s *ApprovalService) syncArtifact(ctx context.Context, artifact *repository.Artifact, in ActInput, result *workflow.ActionResult) *string {
	var action approval.Action
	switch {
	case result.Completed:
		action = approval.ActionApprove
	case result.Request.Status == workflow.RequestRejected && in.Action == workflow.ActionRequestChanges:
		action = approval.ActionRequestRevision
	case result.Request.Status == workflow.RequestRejected:
		action = approval.ActionReject
	default:
		return nil
	}

	transition, err := approval.ExecuteTransition(artifact.Status, action, approval.TransitionContext{
		UserID:  in.ApproverID,
		Role:    in.ApproverRole,
		Comment: in.Comment,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("artifact_id", artifact.ID).
			Str("action", string(action)).
			Msg("Artifact state machine out of sync with workflow outcome")
		return nil
	}
	if err := s.artifactStore.UpdateStatus(ctx, artifact.ID, transition.NewStatus, transition.NewApprovalStatus); err != nil {
		s.log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("Failed to persist artifact status")
		return nil
	}
	after := string(transition.NewStatus)
	return &after
}

// ── Cancellation ──────────────────────────────────────────────────────────────

// CancelRequest lets the original requester withdraw an in-flight request.
// Cancellation is an external action, not a workflow action: it bypasses
// stage validation but still respects terminal statuses.
func (s *ApprovalService) CancelRequest(ctx context.Context, requestID, cancelledBy string) (*workflow.ApprovalRequest, error) {
	req, err := s.requestStore.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != cancelledBy {
		return nil, errors.Unauthorized("only the requester can cancel the request")
	}
	if !req.Status.IsActive() {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("request cannot be cancelled from status %q", req.Status))
	}

	now := time.Now().UTC()
	next := req.Clone()
	next.Status = workflow.RequestCancelled
	next.CurrentStageID = nil
	next.CompletedAt = &now
	next.UpdatedAt = now
	next.Version++

	if err := s.requestStore.Update(ctx, next); err != nil {
		return nil, err
	}

	// Return the artifact to draft, mirroring a withdrawn submission.
	if err := s.artifactStore.UpdateStatus(ctx, req.TargetID, approval.StatusDraft, nil); err != nil {
		s.log.Warn().Err(err).Str("artifact_id", req.TargetID).Msg("Failed to return artifact to draft")
	}

	metrics.RequestsCompleted.WithLabelValues(string(workflow.RequestCancelled)).Inc()

	s.appendAudit(ctx, &repository.AuditEntry{
		TargetType:  string(req.TargetType),
		TargetID:    req.TargetID,
		RequestID:   &req.ID,
		Action:      "cancelled",
		PerformedBy: cancelledBy,
	})

	s.log.Info().
		Str("request_id", req.ID).
		Str("cancelled_by", cancelledBy).
		Msg("Approval request cancelled")

	return next, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// PendingApproval pairs an in-flight request with the stage awaiting the user.
type PendingApproval struct {
	Request *workflow.ApprovalRequest
	Stage   *workflow.ApprovalStage
}

// GetPendingApprovals returns every in-flight request whose current stage is
// awaiting action from the user, either by explicit listing, delegation, or
// role-pool membership.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, userID string, role approval.Role) ([]PendingApproval, error) {
	reqs, err := s.requestStore.ListInFlight(ctx)
	if err != nil {
		return nil, err
	}

	defs := make(map[string]*workflow.WorkflowDefinition)
	var pending []PendingApproval
	for _, req := range reqs {
		if req.CurrentStageID == nil {
			continue
		}
		wf, ok := defs[req.WorkflowID]
		if !ok {
			wf, err = s.workflowStore.GetByID(ctx, req.WorkflowID)
			if err != nil {
				s.log.Warn().Err(err).Str("request_id", req.ID).Msg("Skipping request with unknown workflow")
				continue
			}
			defs[req.WorkflowID] = wf
		}
		stage := wf.StageByID(*req.CurrentStageID)
		if stage == nil {
			continue
		}
		eligible, err := s.awaitsUser(ctx, req, stage, userID, role)
		if err != nil {
			return nil, err
		}
		if eligible {
			pending = append(pending, PendingApproval{Request: req, Stage: stage})
		}
	}
	return pending, nil
}

func (s *ApprovalService) awaitsUser(ctx context.Context, req *workflow.ApprovalRequest, stage *workflow.ApprovalStage, userID string, role approval.Role) (bool, error) {
	if len(stage.Approvers) > 0 {
		for _, id := range stage.Approvers {
			if id == userID {
				return true, nil
			}
		}
		// Delegates inherit the slot of whoever delegated to them.
		actions, err := s.actionStore.ListByRequest(ctx, req.ID)
		if err != nil {
			return false, err
		}
		for _, a := range actions {
			if a.StageID == stage.ID && a.Action == workflow.ActionDelegate && a.Metadata.DelegateToID == userID {
				return true, nil
			}
		}
		return false, nil
	}
	for _, r := range stage.ApproverRoles {
		if r == role.String() {
			return true, nil
		}
	}
	return false, nil
}

// GetApprovalHistory returns the full audit trail for an artifact.
func (s *ApprovalService) GetApprovalHistory(ctx context.Context, targetType, targetID string) ([]*repository.AuditEntry, error) {
	return s.auditStore.GetByTarget(ctx, targetType, targetID)
}

// GetRequest returns a request with its action log.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string) (*workflow.ApprovalRequest, []workflow.ApprovalAction, error) {
	req, err := s.requestStore.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	actions, err := s.actionStore.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, actions, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalService) resolveWorkflow(ctx context.Context, workflowID string, targetType workflow.TargetType) (*workflow.WorkflowDefinition, error) {
	if workflowID != "" {
		return s.workflowStore.GetByID(ctx, workflowID)
	}
	wf, err := s.workflowStore.FindForTarget(ctx, targetType)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.NotFound("workflow for target type", string(targetType))
	}
	return wf, nil
}

// routeStage asks the routing engine who should act on a stage. Routing is
// advisory: failures are logged and never block the workflow.
func (s *ApprovalService) routeStage(ctx context.Context, wf *workflow.WorkflowDefinition, req *workflow.ApprovalRequest, stage *workflow.ApprovalStage) *routing.Decision {
	if stage == nil {
		return nil
	}
	members, err := s.identity.GetTeamMembers(ctx, s.workspaceID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not fetch team members; stage left unrouted")
		return nil
	}

	candidates := make([]routing.TeamMember, 0, len(members))
	for _, m := range members {
		role, ok := approval.ParseRole(m.Role)
		if !ok {
			continue
		}
		candidates = append(candidates, routing.TeamMember{
			ID:            m.ID,
			Name:          m.Name,
			Role:          role,
			OpenApprovals: m.OpenApprovals,
		})
	}

	decision, err := s.router.RouteApproval(routing.Input{
		Request:       req,
		Workflow:      wf,
		Stage:         stage,
		RequesterID:   req.RequesterID,
		TeamMembers:   candidates,
		Urgency:       req.Priority,
		WorkloadKnown: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("stage_id", stage.ID).Msg("Routing produced no recommendation")
		return nil
	}
	return decision
}

// fanOut expands role audiences to user ids, appends inbox notifications and
// hands each event to the delivery publisher. All failures are non-fatal.
func (s *ApprovalService) fanOut(ctx context.Context, events []notification.Event) {
	for _, event := range events {
		recipients := make([]string, 0, len(event.Recipients))
		seen := make(map[string]bool)
		for _, id := range event.Recipients {
			if id != "" && !seen[id] {
				seen[id] = true
				recipients = append(recipients, id)
			}
		}
		for _, role := range event.AudienceRoles {
			ids, err := s.identity.GetUsersWithRole(ctx, role)
			if err != nil {
				s.log.Warn().Err(err).Str("role", role).Msg("Could not expand notification audience")
				continue
			}
			for _, id := range ids {
				if id != "" && !seen[id] {
					seen[id] = true
					recipients = append(recipients, id)
				}
			}
		}

		event.Recipients = recipients
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to append inbox notifications")
		} else {
			metrics.NotificationsCreated.Add(float64(len(recipients)))
		}
		s.publisher.PublishEvent(ctx, event)
	}
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.auditStore.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("target_id", entry.TargetID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
