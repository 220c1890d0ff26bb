package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/metrics"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// SweepSummary reports one pass of the timeout sweep.
type SweepSummary struct {
	Evaluated int
	Escalated int
	Expired   int
	Failed    int
}

// RunTimeoutSweep evaluates every in-flight request against its stage
// timeout, escalating or expiring as needed. A single broken request never
// blocks the rest: failures are logged, counted and skipped. The optimistic
// version check in the request store serializes the sweep against live
// actions on the same request — when a human action lands first, the sweep's
// write loses and that request is simply picked up on the next pass.
func (s *ApprovalService) RunTimeoutSweep(ctx context.Context, now time.Time) SweepSummary {
	summary := SweepSummary{}

	reqs, err := s.requestStore.ListInFlight(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Timeout sweep could not list in-flight requests")
		summary.Failed++
		return summary
	}

	defs := make(map[string]*workflow.WorkflowDefinition)
	for _, req := range reqs {
		summary.Evaluated++

		wf, ok := defs[req.WorkflowID]
		if !ok {
			wf, err = s.workflowStore.GetByID(ctx, req.WorkflowID)
			if err != nil {
				s.log.Warn().Err(err).Str("request_id", req.ID).Msg("Timeout sweep skipping request with unknown workflow")
				summary.Failed++
				metrics.SweepFailures.Inc()
				continue
			}
			defs[req.WorkflowID] = wf
		}

		result := s.engine.EvaluateTimeout(wf, req, now)
		if result.Action == nil {
			continue
		}

		if err := s.applySweepResult(ctx, req, result); err != nil {
			s.log.Warn().Err(err).Str("request_id", req.ID).Msg("Timeout sweep could not persist result")
			summary.Failed++
			metrics.SweepFailures.Inc()
			continue
		}

		if result.Escalated {
			summary.Escalated++
			metrics.SweepEscalations.Inc()
		}
		if result.Expired {
			summary.Expired++
			metrics.SweepExpirations.Inc()
			metrics.RequestsCompleted.WithLabelValues(string(workflow.RequestExpired)).Inc()
		}
	}

	s.log.Info().
		Int("evaluated", summary.Evaluated).
		Int("escalated", summary.Escalated).
		Int("expired", summary.Expired).
		Int("failed", summary.Failed).
		Msg("Timeout sweep completed")

	return summary
}

func (s *ApprovalService) applySweepResult(ctx context.Context, req *workflow.ApprovalRequest, result *workflow.SweepResult) error {
	if err := s.requestStore.UpdateWithAction(ctx, result.Request, result.Action); err != nil {
		return err
	}

	action := "escalated"
	if result.Expired {
		action = "expired"
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		TargetType:  string(req.TargetType),
		TargetID:    req.TargetID,
		RequestID:   &req.ID,
		StageID:     &result.Action.StageID,
		Action:      action,
		PerformedBy: workflow.SystemActorID,
		Metadata: map[string]interface{}{
			"reason":           result.Action.Metadata.EscalationReason,
			"escalation_level": result.Request.EscalationLevel,
		},
	})

	s.fanOut(ctx, result.Events)
	return nil
}
