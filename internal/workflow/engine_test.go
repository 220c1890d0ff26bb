package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func twoStageWorkflow() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:                  "wf-1",
		Name:                "Content Review",
		TargetTypes:         []TargetType{TargetContent},
		IsActive:            true,
		DefaultTimeoutHours: 48,
		Stages: []ApprovalStage{
			{
				ID:                "stage-1",
				Order:             1,
				Name:              "Peer Review",
				ApproversRequired: 2,
				Approvers:         []string{"alice", "bob", "carol"},
			},
			{
				ID:                "stage-2",
				Order:             2,
				Name:              "Final Sign-off",
				ApproversRequired: 1,
				Approvers:         []string{"dave"},
				TimeoutHours:      intPtr(24),
			},
		},
	}
}

func startRequest(t *testing.T, e *Engine, wf *WorkflowDefinition, target TargetContext) *ApprovalRequest {
	t.Helper()
	result, err := e.StartWorkflow(wf, StartInput{
		TargetType:  TargetContent,
		TargetID:    "content-1",
		TargetTitle: "Summer Campaign Email",
		RequesterID: "erin",
		Target:      target,
		Now:         testNow,
	})
	require.NoError(t, err)
	return result.Request
}

func TestStartWorkflow(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()

	result, err := e.StartWorkflow(wf, StartInput{
		TargetType:  TargetContent,
		TargetID:    "content-1",
		TargetTitle: "Summer Campaign Email",
		RequesterID: "erin",
		Now:         testNow,
	})
	require.NoError(t, err)

	req := result.Request
	assert.Equal(t, RequestPending, req.Status)
	require.NotNil(t, req.CurrentStageID)
	assert.Equal(t, "stage-1", *req.CurrentStageID)
	assert.Equal(t, PriorityMedium, req.Priority)
	assert.Equal(t, 1, req.Version)
	assert.Equal(t, testNow, req.StageEnteredAt)
	assert.Empty(t, result.SkippedStageIDs)

	// Requester confirmation plus a ping to the opening stage's approvers.
	require.Len(t, result.Events, 2)
	assert.Equal(t, notification.EventContentSubmitted, result.Events[0].Type)
	assert.Equal(t, []string{"erin"}, result.Events[0].Recipients)
	assert.Equal(t, notification.EventApprovalRequired, result.Events[1].Type)
	assert.Equal(t, []string{"alice", "bob", "carol"}, result.Events[1].Recipients)
}

func TestStartWorkflowRejectsInactiveAndMismatched(t *testing.T) {
	e := NewEngine(logger.Nop())

	inactive := twoStageWorkflow()
	inactive.IsActive = false
	_, err := e.StartWorkflow(inactive, StartInput{TargetType: TargetContent, RequesterID: "erin", Now: testNow})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	wf := twoStageWorkflow()
	_, err = e.StartWorkflow(wf, StartInput{TargetType: TargetBrand, RequesterID: "erin", Now: testNow})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = e.StartWorkflow(wf, StartInput{TargetType: TargetContent, Now: testNow})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestStartWorkflowSkipsMatchingStages(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	wf.Stages[0].SkipConditions = []SkipCondition{
		{Type: SkipOnUserRole, Operator: OpEquals, Value: "admin"},
	}

	result, err := e.StartWorkflow(wf, StartInput{
		TargetType:  TargetContent,
		TargetID:    "content-1",
		RequesterID: "erin",
		Target:      TargetContext{UserRole: "admin"},
		Now:         testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"stage-1"}, result.SkippedStageIDs)
	require.NotNil(t, result.Request.CurrentStageID)
	assert.Equal(t, "stage-2", *result.Request.CurrentStageID)
	assert.Equal(t, RequestInProgress, result.Request.Status)
}

func TestStartWorkflowAllStagesClearedApprovesImmediately(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	wf.Stages[0].AutoApprove = true
	wf.Stages[1].SkipConditions = []SkipCondition{
		{Type: SkipOnBudgetThreshold, Operator: OpLessThan, Value: "1000"},
	}

	result, err := e.StartWorkflow(wf, StartInput{
		TargetType:  TargetContent,
		TargetID:    "content-1",
		RequesterID: "erin",
		Target:      TargetContext{Budget: 250},
		Now:         testNow,
	})
	require.NoError(t, err)

	req := result.Request
	assert.Equal(t, RequestApproved, req.Status)
	assert.Nil(t, req.CurrentStageID)
	require.NotNil(t, req.CompletedAt)
	assert.Equal(t, []string{"stage-1", "stage-2"}, result.SkippedStageIDs)

	last := result.Events[len(result.Events)-1]
	assert.Equal(t, notification.EventContentApproved, last.Type)
	assert.Equal(t, "system", last.ActorName)
}

func TestProcessActionQuorumAndAdvance(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	// First approval: quorum of 2 not met yet.
	r1, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID:    "stage-1",
		ApproverID: "alice",
		Action:     ActionApprove,
		Now:        testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, RequestInProgress, r1.Request.Status)
	assert.False(t, r1.StageAdvanced)
	assert.False(t, r1.Completed)
	assert.Equal(t, "stage-1", *r1.Request.CurrentStageID)
	assert.Equal(t, 2, r1.Request.Version)

	// Reminder goes to the approvers who have not acted.
	require.Len(t, r1.Events, 1)
	assert.Equal(t, notification.EventApprovalRequired, r1.Events[0].Type)
	assert.Equal(t, []string{"bob", "carol"}, r1.Events[0].Recipients)

	// Second distinct approval meets quorum and advances.
	prior := []ApprovalAction{*r1.Action}
	r2, err := e.ProcessAction(wf, r1.Request, prior, ActionInput{
		StageID:    "stage-1",
		ApproverID: "bob",
		Action:     ActionApprove,
		Now:        testNow.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, r2.StageAdvanced)
	assert.Equal(t, "stage-2", *r2.Request.CurrentStageID)
	assert.Equal(t, testNow.Add(2*time.Hour), r2.Request.StageEnteredAt)

	// Final stage approval completes the request.
	prior = append(prior, *r2.Action)
	r3, err := e.ProcessAction(wf, r2.Request, prior, ActionInput{
		StageID:    "stage-2",
		ApproverID: "dave",
		Action:     ActionApprove,
		Now:        testNow.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, r3.Completed)
	assert.Equal(t, RequestApproved, r3.Request.Status)
	assert.Nil(t, r3.Request.CurrentStageID)
	require.NotNil(t, r3.Request.CompletedAt)

	last := r3.Events[len(r3.Events)-1]
	assert.Equal(t, notification.EventContentApproved, last.Type)
	assert.Equal(t, []string{"erin"}, last.Recipients)
}

func TestProcessActionDuplicateApprovalDoesNotDoubleCount(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	r1, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow,
	})
	require.NoError(t, err)

	// The same approver again: still one distinct voice, quorum unmet.
	r2, err := e.ProcessAction(wf, r1.Request, []ApprovalAction{*r1.Action}, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, r2.StageAdvanced)
	assert.Equal(t, "stage-1", *r2.Request.CurrentStageID)
}

func TestProcessActionRejectTerminatesAnywhere(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	// One approval first, then a reject from another approver.
	r1, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow,
	})
	require.NoError(t, err)

	r2, err := e.ProcessAction(wf, r1.Request, []ApprovalAction{*r1.Action}, ActionInput{
		StageID:    "stage-1",
		ApproverID: "bob",
		Action:     ActionReject,
		Comment:    "claims are not substantiated",
		Now:        testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, r2.Request.Status)
	assert.Nil(t, r2.Request.CurrentStageID)
	require.NotNil(t, r2.Request.CompletedAt)

	require.Len(t, r2.Events, 1)
	assert.Equal(t, notification.EventContentRejected, r2.Events[0].Type)
	assert.Equal(t, []string{"erin"}, r2.Events[0].Recipients)
	assert.Equal(t, []string{AdminAudience}, r2.Events[0].AudienceRoles)
}

func TestProcessActionRejectRequiresComment(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	for _, action := range []ActionType{ActionReject, ActionRequestChanges} {
		_, err := e.ProcessAction(wf, req, nil, ActionInput{
			StageID: "stage-1", ApproverID: "alice", Action: action, Comment: "  ", Now: testNow,
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	}
}

func TestProcessActionRequestChanges(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	result, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID:    "stage-1",
		ApproverID: "alice",
		Action:     ActionRequestChanges,
		Comment:    "swap the hero image",
		Now:        testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, result.Request.Status)

	// Changes-requested goes to the requester only, no admin broadcast.
	require.Len(t, result.Events, 1)
	assert.Equal(t, notification.EventChangesRequested, result.Events[0].Type)
	assert.Equal(t, []string{"erin"}, result.Events[0].Recipients)
	assert.Empty(t, result.Events[0].AudienceRoles)
	assert.Equal(t, "swap the hero image", result.Events[0].Detail)
}

func TestProcessActionDelegation(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	// A non-member cannot act on an explicit-list stage.
	_, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "mallory", Action: ActionApprove, Now: testNow,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))

	// Alice delegates to frank. Delegation itself moves no quorum.
	r1, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID:    "stage-1",
		ApproverID: "alice",
		Action:     ActionDelegate,
		Metadata:   ActionMetadata{DelegateToID: "frank"},
		Now:        testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, RequestInProgress, r1.Request.Status)
	assert.Equal(t, "stage-1", *r1.Request.CurrentStageID)
	require.Len(t, r1.Events, 1)
	assert.Equal(t, notification.EventApprovalDelegated, r1.Events[0].Type)
	assert.Equal(t, []string{"frank"}, r1.Events[0].Recipients)

	// The delegate is now eligible; their approval counts.
	prior := []ApprovalAction{*r1.Action}
	r2, err := e.ProcessAction(wf, r1.Request, prior, ActionInput{
		StageID: "stage-1", ApproverID: "frank", Action: ActionApprove, Now: testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, r2.StageAdvanced)

	// frank + bob = two distinct approvers, quorum met.
	prior = append(prior, *r2.Action)
	r3, err := e.ProcessAction(wf, r2.Request, prior, ActionInput{
		StageID: "stage-1", ApproverID: "bob", Action: ActionApprove, Now: testNow.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, r3.StageAdvanced)
}

func TestProcessActionDelegateRequiresTarget(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	_, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionDelegate, Now: testNow,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestProcessActionEscalate(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	result, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID:    "stage-1",
		ApproverID: "alice",
		Action:     ActionEscalate,
		Metadata:   ActionMetadata{EscalationReason: "launch is blocked on this"},
		Now:        testNow,
	})
	require.NoError(t, err)

	next := result.Request
	assert.Equal(t, RequestEscalated, next.Status)
	assert.Equal(t, 1, next.EscalationLevel)
	require.NotNil(t, next.EscalatedAt)
	// The stage pointer survives: escalation raises visibility, nothing else.
	assert.Equal(t, "stage-1", *next.CurrentStageID)

	require.Len(t, result.Events, 1)
	assert.Equal(t, notification.EventApprovalEscalated, result.Events[0].Type)
	assert.Equal(t, []string{AdminAudience}, result.Events[0].AudienceRoles)

	// An escalated request still accepts approvals.
	r2, err := e.ProcessAction(wf, next, []ApprovalAction{*result.Action}, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.NotNil(t, r2.Action)
}

func TestProcessActionConflicts(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})

	// Wrong stage.
	_, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-2", ApproverID: "dave", Action: ActionApprove, Now: testNow,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	// Terminal request.
	done := req.Clone()
	done.Status = RequestRejected
	done.CurrentStageID = nil
	_, err = e.ProcessAction(wf, done, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestProcessActionDoesNotMutateInput(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	req := startRequest(t, e, wf, TargetContext{})
	before := *req

	_, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, before, *req)
}

func TestRequireAllApproversWithDelegation(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	wf.RequireAllApprovers = true
	req := startRequest(t, e, wf, TargetContext{})

	// alice and bob approve; carol has not, so the stage holds even though
	// the nominal quorum of 2 is met.
	r1, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID: "stage-1", ApproverID: "alice", Action: ActionApprove, Now: testNow,
	})
	require.NoError(t, err)
	prior := []ApprovalAction{*r1.Action}

	r2, err := e.ProcessAction(wf, r1.Request, prior, ActionInput{
		StageID: "stage-1", ApproverID: "bob", Action: ActionApprove, Now: testNow,
	})
	require.NoError(t, err)
	assert.False(t, r2.StageAdvanced)
	prior = append(prior, *r2.Action)

	// carol delegates to grace; grace's approval satisfies carol's slot.
	r3, err := e.ProcessAction(wf, r2.Request, prior, ActionInput{
		StageID:    "stage-1",
		ApproverID: "carol",
		Action:     ActionDelegate,
		Metadata:   ActionMetadata{DelegateToID: "grace"},
		Now:        testNow,
	})
	require.NoError(t, err)
	prior = append(prior, *r3.Action)

	r4, err := e.ProcessAction(wf, r3.Request, prior, ActionInput{
		StageID: "stage-1", ApproverID: "grace", Action: ActionApprove, Now: testNow,
	})
	require.NoError(t, err)
	assert.True(t, r4.StageAdvanced)
}

func TestMidWorkflowSkipEvaluation(t *testing.T) {
	e := NewEngine(logger.Nop())
	wf := twoStageWorkflow()
	wf.Stages[0].ApproversRequired = 1
	wf.Stages[1].SkipConditions = []SkipCondition{
		{Type: SkipOnContentType, Operator: OpEquals, Value: "internal_memo"},
	}
	target := TargetContext{ContentType: "internal_memo"}
	req := startRequest(t, e, wf, target)

	// Stage 1's quorum lands; stage 2 matches the target and is skipped, so
	// the request completes directly.
	result, err := e.ProcessAction(wf, req, nil, ActionInput{
		StageID:    "stage-1",
		ApproverID: "alice",
		Action:     ActionApprove,
		Target:     target,
		Now:        testNow,
	})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, []string{"stage-2"}, result.SkippedStageIDs)
	assert.Equal(t, RequestApproved, result.Request.Status)
}

func TestSkipConditionOperators(t *testing.T) {
	tests := []struct {
		name   string
		cond   SkipCondition
		target TargetContext
		want   bool
	}{
		{"role equals match", SkipCondition{Type: SkipOnUserRole, Operator: OpEquals, Value: "admin"}, TargetContext{UserRole: "admin"}, true},
		{"role equals miss", SkipCondition{Type: SkipOnUserRole, Operator: OpEquals, Value: "admin"}, TargetContext{UserRole: "creator"}, false},
		{"role not equals", SkipCondition{Type: SkipOnUserRole, Operator: OpNotEquals, Value: "viewer"}, TargetContext{UserRole: "admin"}, true},
		{"content contains", SkipCondition{Type: SkipOnContentType, Operator: OpContains, Value: "memo"}, TargetContext{ContentType: "internal_memo"}, true},
		{"budget below threshold", SkipCondition{Type: SkipOnBudgetThreshold, Operator: OpLessThan, Value: "5000"}, TargetContext{Budget: 4999.99}, true},
		{"budget at threshold", SkipCondition{Type: SkipOnBudgetThreshold, Operator: OpLessThan, Value: "5000"}, TargetContext{Budget: 5000}, false},
		{"budget above", SkipCondition{Type: SkipOnBudgetThreshold, Operator: OpGreaterThan, Value: "10000"}, TargetContext{Budget: 12000}, true},
		{"budget unparseable threshold never matches", SkipCondition{Type: SkipOnBudgetThreshold, Operator: OpLessThan, Value: "lots"}, TargetContext{Budget: 1}, false},
		{"custom field", SkipCondition{Type: SkipOnCustom, Field: "region", Operator: OpEquals, Value: "emea"}, TargetContext{Custom: map[string]string{"region": "emea"}}, true},
		{"custom field absent", SkipCondition{Type: SkipOnCustom, Field: "region", Operator: OpEquals, Value: "emea"}, TargetContext{}, false},
		{"string operator on number type", SkipCondition{Type: SkipOnBudgetThreshold, Operator: OpContains, Value: "5"}, TargetContext{Budget: 500}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conditionMatches(tt.cond, tt.target))
		})
	}
}

func TestValidate(t *testing.T) {
	wf := twoStageWorkflow()
	require.NoError(t, wf.Validate())

	noName := twoStageWorkflow()
	noName.Name = ""
	assert.Error(t, noName.Validate())

	noTargets := twoStageWorkflow()
	noTargets.TargetTypes = nil
	assert.Error(t, noTargets.Validate())

	noStages := twoStageWorkflow()
	noStages.Stages = nil
	assert.Error(t, noStages.Validate())

	dupOrder := twoStageWorkflow()
	dupOrder.Stages[1].Order = dupOrder.Stages[0].Order
	assert.Error(t, dupOrder.Validate())

	zeroQuorum := twoStageWorkflow()
	zeroQuorum.Stages[0].ApproversRequired = 0
	assert.Error(t, zeroQuorum.Validate())

	noApprovers := twoStageWorkflow()
	noApprovers.Stages[0].Approvers = nil
	noApprovers.Stages[0].ApproverRoles = nil
	assert.Error(t, noApprovers.Validate())
}

func TestStatusPredicates(t *testing.T) {
	active := []RequestStatus{RequestPending, RequestInProgress, RequestEscalated}
	terminal := []RequestStatus{RequestApproved, RequestRejected, RequestCancelled, RequestExpired}

	for _, s := range active {
		assert.True(t, s.IsActive(), string(s))
		assert.False(t, s.IsTerminal(), string(s))
	}
	for _, s := range terminal {
		assert.False(t, s.IsActive(), string(s))
		assert.True(t, s.IsTerminal(), string(s))
	}
}
