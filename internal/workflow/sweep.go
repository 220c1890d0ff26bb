package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
)

// SystemActorID marks actions the sweep generates without a human behind them.
const SystemActorID = "system"

// SweepResult is the outcome of evaluating one request for timeout. A nil
// Action means the request was left untouched.
type SweepResult struct {
	Request   *ApprovalRequest
	Action    *ApprovalAction
	Escalated bool
	Expired   bool
	Events    []notification.Event
}

// EvaluateTimeout checks one in-flight request against its current stage's
// timeout. The first breach auto-escalates with a system-generated reason;
// once escalated, a second full timeout window (measured from the escalation)
// expires the request. The function is idempotent: re-running it inside the
// same window changes nothing, because the first breach flips the status to
// escalated and the second to the terminal expired.
//
// The caller must serialize this with live action processing for the same
// request (same lock), or an approval could race an auto-escalation.
func (e *Engine) EvaluateTimeout(wf *WorkflowDefinition, req *ApprovalRequest, now time.Time) *SweepResult {
	if !req.Status.IsActive() || req.CurrentStageID == nil {
		return &SweepResult{Request: req}
	}
	stage := wf.StageByID(*req.CurrentStageID)
	if stage == nil {
		return &SweepResult{Request: req}
	}
	timeout := stage.Timeout(wf)
	if timeout <= 0 {
		return &SweepResult{Request: req}
	}

	// After an escalation the window restarts from the escalation time, so
	// the elevated level gets a full period before the request expires.
	anchor := req.StageEnteredAt
	if req.Status == RequestEscalated && req.EscalatedAt != nil {
		anchor = *req.EscalatedAt
	}
	if now.Before(anchor.Add(timeout)) {
		return &SweepResult{Request: req}
	}

	next := req.Clone()
	next.UpdatedAt = now
	next.Version++

	if req.Status != RequestEscalated {
		reason := fmt.Sprintf("stage %q exceeded its %s timeout without reaching quorum", stage.Name, timeout)
		e.applyEscalation(next, now)

		entry := &ApprovalAction{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			StageID:    stage.ID,
			ApproverID: SystemActorID,
			Action:     ActionEscalate,
			Metadata:   ActionMetadata{EscalationReason: reason},
			CreatedAt:  now,
		}

		e.log.Info().
			Str("request_id", req.ID).
			Str("stage_id", stage.ID).
			Int("escalation_level", next.EscalationLevel).
			Msg("request auto-escalated by timeout sweep")

		return &SweepResult{
			Request:   next,
			Action:    entry,
			Escalated: true,
			Events: []notification.Event{
				e.event(notification.EventApprovalEscalated, next, SystemActorID,
					append([]string{next.RequesterID}, stage.Approvers...), []string{AdminAudience}, reason),
			},
		}
	}

	// Second breach at the escalated level: give up.
	next.Status = RequestExpired
	next.CurrentStageID = nil
	next.CompletedAt = &now

	entry := &ApprovalAction{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		StageID:    stage.ID,
		ApproverID: SystemActorID,
		Action:     ActionEscalate,
		Metadata: ActionMetadata{
			EscalationReason: fmt.Sprintf("request expired after escalation at stage %q went unanswered for %s", stage.Name, timeout),
		},
		CreatedAt: now,
	}

	e.log.Info().
		Str("request_id", req.ID).
		Str("stage_id", stage.ID).
		Msg("escalated request expired by timeout sweep")

	return &SweepResult{
		Request: next,
		Action:  entry,
		Expired: true,
		Events: []notification.Event{
			e.event(notification.EventRequestExpired, next, SystemActorID,
				[]string{next.RequesterID}, []string{AdminAudience}, ""),
		},
	}
}
