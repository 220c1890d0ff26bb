package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

func TestCreateArtifactValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{Type: workflow.TargetContent, OwnerID: "erin"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = env.artifacts.CreateArtifact(ctx, CreateArtifactInput{Type: workflow.TargetContent, Title: "X"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = env.artifacts.CreateArtifact(ctx, CreateArtifactInput{Type: "poster", Title: "X", OwnerID: "erin"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	artifact, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{
		Type: workflow.TargetCampaign, Title: "Q3 Push", OwnerID: "erin",
	})
	require.NoError(t, err)
	assert.Equal(t, approval.StatusDraft, artifact.Status)
	assert.Equal(t, approval.ApprovalPending, artifact.ApprovalStatus)
	assert.NotEmpty(t, artifact.ID)
}

func TestExecuteActionLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	artifact, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{
		Type: workflow.TargetContent, Title: "Summer Sale Email", OwnerID: "erin",
	})
	require.NoError(t, err)

	creator := Actor{UserID: "erin", Role: approval.RoleCreator}
	approver := Actor{UserID: "alice", Role: approval.RoleApprover}
	publisher := Actor{UserID: "paula", Role: approval.RolePublisher}

	// draft → pending_review → approved → published → archived.
	a, err := env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionSubmitForReview, creator, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPendingReview, a.Status)

	a, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionApprove, approver, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, a.Status)

	a, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionPublish, publisher, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPublished, a.Status)

	a, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionArchive, creator, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusArchived, a.Status)

	// Every hop produced an audit entry.
	history, err := env.audits.GetByTarget(ctx, "content", artifact.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	// The owner was notified of each announced step.
	inbox, err := env.notifier.GetNotifications(ctx, "erin")
	require.NoError(t, err)
	types := make([]notification.EventType, 0, len(inbox))
	for _, n := range inbox {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, notification.EventContentSubmitted)
	assert.Contains(t, types, notification.EventContentApproved)
	assert.Contains(t, types, notification.EventContentPublished)
}

func TestExecuteActionRejectionPath(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	artifact, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{
		Type: workflow.TargetContent, Title: "Flash Sale", OwnerID: "erin",
	})
	require.NoError(t, err)

	creator := Actor{UserID: "erin", Role: approval.RoleCreator}
	approver := Actor{UserID: "alice", Role: approval.RoleApprover}

	_, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionSubmitForReview, creator, "")
	require.NoError(t, err)

	// Reject without a comment is refused.
	_, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionReject, approver, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	a, err := env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionReject, approver, "pricing is wrong")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusDraft, a.Status)
	assert.Equal(t, approval.ApprovalRejected, a.ApprovalStatus)

	// The rejection notification carries the comment.
	inbox, err := env.notifier.GetNotifications(ctx, "erin")
	require.NoError(t, err)
	require.NotEmpty(t, inbox)
	assert.Contains(t, inbox[0].Message, "pricing is wrong")
}

func TestExecuteActionEnforcesGuards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	artifact, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{
		Type: workflow.TargetContent, Title: "Flash Sale", OwnerID: "erin",
	})
	require.NoError(t, err)

	creator := Actor{UserID: "erin", Role: approval.RoleCreator}
	_, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionSubmitForReview, creator, "")
	require.NoError(t, err)

	// The creator cannot approve their own artifact without an override.
	_, err = env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionApprove, creator, "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))

	// A capability override lets them.
	elevated := Actor{UserID: "erin", Role: approval.RoleCreator, Overrides: approval.Overrides{approval.CanApproveContent: true}}
	a, err := env.artifacts.ExecuteAction(ctx, artifact.ID, approval.ActionApprove, elevated, "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, a.Status)
}

func TestGetAvailableActionsForArtifact(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	artifact, err := env.artifacts.CreateArtifact(ctx, CreateArtifactInput{
		Type: workflow.TargetContent, Title: "Flash Sale", OwnerID: "erin",
	})
	require.NoError(t, err)

	actions, err := env.artifacts.GetAvailableActions(ctx, artifact.ID, approval.RoleCreator)
	require.NoError(t, err)
	assert.Equal(t, []approval.Action{approval.ActionSubmitForReview, approval.ActionArchive}, actions)

	_, err = env.artifacts.GetAvailableActions(ctx, "ghost", approval.RoleCreator)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestListArtifactsByOwnerAndType(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	for _, in := range []CreateArtifactInput{
		{Type: workflow.TargetContent, Title: "A", OwnerID: "erin"},
		{Type: workflow.TargetCampaign, Title: "B", OwnerID: "erin"},
		{Type: workflow.TargetContent, Title: "C", OwnerID: "bob"},
	} {
		_, err := env.artifacts.CreateArtifact(ctx, in)
		require.NoError(t, err)
	}

	all, err := env.artifacts.ListArtifacts(ctx, "erin", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	content := workflow.TargetContent
	filtered, err := env.artifacts.ListArtifacts(ctx, "erin", &content)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "A", filtered[0].Title)
}
