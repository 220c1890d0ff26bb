package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// ArtifactService manages artifacts and their single-resource approval
// lifecycle. Unlike the multi-stage path, transitions here are direct: one
// approver decision moves the artifact, no quorum involved.
type ArtifactService struct {
	artifactStore ArtifactStore
	auditStore    AuditStore
	identity      IdentityClientInterface
	publisher     DeliveryPublisher
	notifier      *notification.Service
	log           *logger.Logger
}

// NewArtifactService creates a new ArtifactService.
func NewArtifactService(
	artifactStore ArtifactStore,
	auditStore AuditStore,
	identity IdentityClientInterface,
	publisher DeliveryPublisher,
	notifier *notification.Service,
	log *logger.Logger,
) *ArtifactService {
	return &ArtifactService{
		artifactStore: artifactStore,
		auditStore:    auditStore,
		identity:      identity,
		publisher:     publisher,
		notifier:      notifier,
		log:           log,
	}
}

// CreateArtifactInput describes a new artifact.
type CreateArtifactInput struct {
	Type        workflow.TargetType
	Title       string
	OwnerID     string
	ContentType string
	Budget      float64
}

// CreateArtifact registers a new draft artifact.
func (s *ArtifactService) CreateArtifact(ctx context.Context, in CreateArtifactInput) (*repository.Artifact, error) {
	if in.Title == "" {
		return nil, errors.InvalidInput("title", "artifact title is required")
	}
	if in.OwnerID == "" {
		return nil, errors.InvalidInput("owner_id", "owner id is required")
	}
	switch in.Type {
	case workflow.TargetCampaign, workflow.TargetJourney, workflow.TargetContent, workflow.TargetBrand:
	default:
		return nil, errors.InvalidInput("type", "unknown artifact type")
	}

	artifact := &repository.Artifact{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Title:          in.Title,
		OwnerID:        in.OwnerID,
		Status:         approval.StatusDraft,
		ApprovalStatus: approval.ApprovalPending,
		ContentType:    in.ContentType,
		Budget:         in.Budget,
	}
	if err := s.artifactStore.Create(ctx, artifact); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("artifact_id", artifact.ID).
		Str("type", string(artifact.Type)).
		Msg("Artifact created")

	return artifact, nil
}

// GetArtifact loads one artifact.
func (s *ArtifactService) GetArtifact(ctx context.Context, id string) (*repository.Artifact, error) {
	return s.artifactStore.GetByID(ctx, id)
}

// ListArtifacts returns an owner's artifacts.
func (s *ArtifactService) ListArtifacts(ctx context.Context, ownerID string, targetType *workflow.TargetType) ([]*repository.Artifact, error) {
	return s.artifactStore.ListByOwner(ctx, ownerID, targetType)
}

// Actor is the resolved identity performing a transition.
type Actor struct {
	UserID    string
	Role      approval.Role
	Overrides approval.Overrides
}

// ExecuteAction runs one state machine action on an artifact, persists the
// outcome and announces it.
func (s *ArtifactService) ExecuteAction(ctx context.Context, artifactID string, action approval.Action, actor Actor, comment string) (*repository.Artifact, error) {
	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	transition, err := approval.ExecuteTransition(artifact.Status, action, approval.TransitionContext{
		UserID:    actor.UserID,
		Role:      actor.Role,
		Overrides: actor.Overrides,
		Comment:   comment,
	})
	if err != nil {
		return nil, err
	}

	if err := s.artifactStore.UpdateStatus(ctx, artifact.ID, transition.NewStatus, transition.NewApprovalStatus); err != nil {
		return nil, err
	}

	statusBefore := string(artifact.Status)
	statusAfter := string(transition.NewStatus)
	if err := s.auditStore.Append(ctx, &repository.AuditEntry{
		TargetType:   string(artifact.Type),
		TargetID:     artifact.ID,
		Action:       string(action),
		PerformedBy:  actor.UserID,
		StatusBefore: &statusBefore,
		StatusAfter:  &statusAfter,
		Metadata:     auditMetaForComment(comment),
	}); err != nil {
		s.log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("Failed to write audit log entry")
	}

	if event, ok := s.eventFor(action, artifact, actor, comment); ok {
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("Failed to append inbox notifications")
		}
		s.publisher.PublishEvent(ctx, event)
	}

	artifact.Status = transition.NewStatus
	if transition.NewApprovalStatus != nil {
		artifact.ApprovalStatus = *transition.NewApprovalStatus
	}

	s.log.Info().
		Str("artifact_id", artifact.ID).
		Str("action", string(action)).
		Str("status", string(artifact.Status)).
		Msg("Artifact transition executed")

	return artifact, nil
}

// GetAvailableActions lists the actions a role may take from the artifact's
// current status.
func (s *ArtifactService) GetAvailableActions(ctx context.Context, artifactID string, role approval.Role) ([]approval.Action, error) {
	artifact, err := s.artifactStore.GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return approval.GetAvailableActions(artifact.Status, role), nil
}

func (s *ArtifactService) eventFor(action approval.Action, artifact *repository.Artifact, actor Actor, comment string) (notification.Event, bool) {
	var eventType notification.EventType
	switch action {
	case approval.ActionSubmitForReview:
		eventType = notification.EventContentSubmitted
	case approval.ActionApprove:
		eventType = notification.EventContentApproved
	case approval.ActionReject:
		eventType = notification.EventContentRejected
	case approval.ActionRequestRevision:
		eventType = notification.EventChangesRequested
	case approval.ActionPublish:
		eventType = notification.EventContentPublished
	default:
		return notification.Event{}, false
	}

	return notification.Event{
		Type:          eventType,
		ArtifactTitle: artifact.Title,
		ActorName:     actor.UserID,
		ResourceType:  string(artifact.Type),
		ResourceID:    artifact.ID,
		Detail:        comment,
		Recipients:    []string{artifact.OwnerID},
	}, true
}

func auditMetaForComment(comment string) map[string]interface{} {
	if comment == "" {
		return nil
	}
	return map[string]interface{}{"comment": comment}
}
