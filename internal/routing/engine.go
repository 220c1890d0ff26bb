package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// TeamMember is one candidate approver with their current workload.
type TeamMember struct {
	ID            string
	Name          string
	Role          approval.Role
	OpenApprovals int // currently assigned open approvals; ignored when workload is unknown
}

// Input is everything RouteApproval considers. WorkloadKnown tells the engine
// whether OpenApprovals carries real data; when false all candidates are
// treated as equally loaded.
type Input struct {
	Request       *workflow.ApprovalRequest
	Workflow      *workflow.WorkflowDefinition
	Stage         *workflow.ApprovalStage
	RequesterID   string
	TeamMembers   []TeamMember
	Urgency       workflow.Priority
	WorkloadKnown bool
}

// Decision is the ranked, confidence-scored recommendation. It is ephemeral:
// nothing in the core persists it.
type Decision struct {
	TargetApprovers []string
	EstimatedTime   time.Duration
	Confidence      float64
	Reasoning       []string
}

// Seniority weight is capped at the publisher level so admins do not win
// every stage by default.
const seniorityCap = float64(approval.RolePublisher)

// Engine ranks candidate approvers for a stage.
type Engine struct {
	log *logger.Logger
}

// NewEngine creates a routing engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log}
}

type scoredCandidate struct {
	member TeamMember
	score  float64
}

// RouteApproval filters the team to stage-eligible members, ranks them by a
// weighted score of seniority, load balance and urgency, and returns the top
// quorum-sized slice with an explanation of the ranking.
func (e *Engine) RouteApproval(in Input) (*Decision, error) {
	if in.Stage == nil {
		return nil, errors.InvalidInput("stage", "stage is required")
	}

	eligible, poolReason := e.eligibleCandidates(in)
	if len(eligible) == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "no eligible approvers for stage")
	}

	urgent := in.Urgency == workflow.PriorityUrgent
	maxLoad := 0
	if in.WorkloadKnown {
		for _, m := range eligible {
			if m.OpenApprovals > maxLoad {
				maxLoad = m.OpenApprovals
			}
		}
	}

	scored := make([]scoredCandidate, 0, len(eligible))
	for _, m := range eligible {
		scored = append(scored, scoredCandidate{member: m, score: e.score(m, in.WorkloadKnown, maxLoad, urgent)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].member.OpenApprovals != scored[j].member.OpenApprovals {
			return scored[i].member.OpenApprovals < scored[j].member.OpenApprovals
		}
		return scored[i].member.ID < scored[j].member.ID
	})

	n := in.Stage.ApproversRequired
	if n > len(scored) {
		n = len(scored)
	}

	decision := &Decision{
		TargetApprovers: make([]string, 0, n),
		EstimatedTime:   e.estimateTime(in),
		Confidence:      e.confidence(scored, n),
	}
	decision.Reasoning = append(decision.Reasoning, poolReason)
	for _, c := range scored[:n] {
		decision.TargetApprovers = append(decision.TargetApprovers, c.member.ID)
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("%s selected: role %s, %d open approvals, score %.2f",
				c.member.Name, c.member.Role, c.member.OpenApprovals, c.score))
	}
	if urgent {
		decision.Reasoning = append(decision.Reasoning, "urgent priority biased the ranking toward senior approvers")
	}

	e.log.Debug().
		Str("stage_id", in.Stage.ID).
		Int("eligible", len(eligible)).
		Strs("target_approvers", decision.TargetApprovers).
		Float64("confidence", decision.Confidence).
		Msg("approval routed")

	return decision, nil
}

// eligibleCandidates filters the team to the stage's pool. An explicit
// approver list takes precedence over role pools.
func (e *Engine) eligibleCandidates(in Input) ([]TeamMember, string) {
	if len(in.Stage.Approvers) > 0 {
		listed := make(map[string]bool, len(in.Stage.Approvers))
		for _, id := range in.Stage.Approvers {
			listed[id] = true
		}
		var eligible []TeamMember
		for _, m := range in.TeamMembers {
			if listed[m.ID] {
				eligible = append(eligible, m)
			}
		}
		return eligible, fmt.Sprintf("stage names %d explicit approvers; %d are on the team", len(in.Stage.Approvers), len(eligible))
	}

	pool := make(map[string]bool, len(in.Stage.ApproverRoles))
	for _, r := range in.Stage.ApproverRoles {
		pool[r] = true
	}
	var eligible []TeamMember
	for _, m := range in.TeamMembers {
		if pool[m.Role.String()] {
			eligible = append(eligible, m)
		}
	}
	return eligible, fmt.Sprintf("role pool %v matched %d of %d team members", in.Stage.ApproverRoles, len(eligible), len(in.TeamMembers))
}

// score combines seniority (capped), load balance and the urgency bias.
func (e *Engine) score(m TeamMember, workloadKnown bool, maxLoad int, urgent bool) float64 {
	seniority := float64(m.Role)
	if seniority > seniorityCap {
		seniority = seniorityCap
	}
	score := seniority

	if workloadKnown && maxLoad > 0 {
		// Fewer open approvals pushes a candidate up, scaled to matter against
		// one seniority step but not two.
		score += 2.0 * float64(maxLoad-m.OpenApprovals) / float64(maxLoad+1)
	}
	if urgent {
		// Uncapped seniority bias: for urgent requests the most senior
		// available candidate wins even if it unbalances load.
		score += 1.5 * float64(m.Role)
	}
	return score
}

// confidence reflects how clear-cut the cut line was: a wide score gap
// between the last chosen and the first rejected candidate means high
// confidence, a tie means a coin flip.
func (e *Engine) confidence(scored []scoredCandidate, n int) float64 {
	if n >= len(scored) {
		// No candidate was rejected, the pool is exactly the pick.
		return 0.9
	}
	gap := scored[n-1].score - scored[n].score
	top := scored[0].score
	if top <= 0 {
		return 0.5
	}
	conf := 0.5 + 0.5*gap/top
	if conf > 0.99 {
		conf = 0.99
	}
	if conf < 0.5 {
		conf = 0.5
	}
	return conf
}

// estimateTime is a heuristic on the stage timeout: urgent requests are
// expected to clear in a quarter of the window, high priority in a third,
// everything else in half.
func (e *Engine) estimateTime(in Input) time.Duration {
	window := 24 * time.Hour
	if in.Workflow != nil {
		window = in.Stage.Timeout(in.Workflow)
	}
	switch in.Urgency {
	case workflow.PriorityUrgent:
		return window / 4
	case workflow.PriorityHigh:
		return window / 3
	default:
		return window / 2
	}
}
