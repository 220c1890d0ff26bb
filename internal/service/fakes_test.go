package service

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/client"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/repository"
	"github.com/pesio-ai/be-mkt-approvals/internal/routing"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// In-memory store fakes mirroring the postgres repositories' contracts,
// including the optimistic version check and the one-active-request-per-target
// constraint.

type fakeWorkflowStore struct {
	defs map[string]*workflow.WorkflowDefinition
}

func (f *fakeWorkflowStore) GetByID(_ context.Context, id string) (*workflow.WorkflowDefinition, error) {
	wf, ok := f.defs[id]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return wf, nil
}

func (f *fakeWorkflowStore) FindForTarget(_ context.Context, targetType workflow.TargetType) (*workflow.WorkflowDefinition, error) {
	for _, wf := range f.defs {
		if wf.IsActive && wf.AppliesTo(targetType) {
			return wf, nil
		}
	}
	return nil, nil
}

type fakeRequestStore struct {
	mu      sync.Mutex
	reqs    map[string]*workflow.ApprovalRequest
	actions *fakeActionStore
}

func (f *fakeRequestStore) Create(_ context.Context, req *workflow.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reqs {
		if r.TargetType == req.TargetType && r.TargetID == req.TargetID && r.Status.IsActive() {
			return errors.New(errors.ErrCodeConflict, "an active approval request already exists for this target")
		}
	}
	f.reqs[req.ID] = req.Clone()
	return nil
}

func (f *fakeRequestStore) GetByID(_ context.Context, id string) (*workflow.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return nil, errors.NotFound("approval request", id)
	}
	return req.Clone(), nil
}

func (f *fakeRequestStore) GetActiveByTarget(_ context.Context, targetType workflow.TargetType, targetID string) (*workflow.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reqs {
		if r.TargetType == targetType && r.TargetID == targetID && r.Status.IsActive() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeRequestStore) ListInFlight(_ context.Context) ([]*workflow.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*workflow.ApprovalRequest
	for _, r := range f.reqs {
		if r.Status.IsActive() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (f *fakeRequestStore) Update(_ context.Context, req *workflow.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.reqs[req.ID]
	if !ok {
		return errors.NotFound("approval request", req.ID)
	}
	if stored.Version != req.Version-1 {
		return errors.New(errors.ErrCodeConflict, "request was modified concurrently")
	}
	f.reqs[req.ID] = req.Clone()
	return nil
}

// UpdateWithAction mirrors the transactional repository method: the action
// entry lands only when the version-checked update succeeds.
func (f *fakeRequestStore) UpdateWithAction(ctx context.Context, req *workflow.ApprovalRequest, a *workflow.ApprovalAction) error {
	if err := f.Update(ctx, req); err != nil {
		return err
	}
	return f.actions.Append(ctx, a)
}

type fakeActionStore struct {
	mu      sync.Mutex
	actions []workflow.ApprovalAction
}

func (f *fakeActionStore) Append(_ context.Context, a *workflow.ApprovalAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, *a)
	return nil
}

func (f *fakeActionStore) ListByRequest(_ context.Context, requestID string) ([]workflow.ApprovalAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []workflow.ApprovalAction
	for _, a := range f.actions {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
}

func (f *fakeAuditStore) Append(_ context.Context, entry *repository.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) GetByTarget(_ context.Context, targetType, targetID string) ([]*repository.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.AuditEntry
	for _, e := range f.entries {
		if e.TargetType == targetType && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]*repository.Artifact
}

func (f *fakeArtifactStore) Create(_ context.Context, a *repository.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *a
	f.artifacts[a.ID] = &copied
	return nil
}

func (f *fakeArtifactStore) GetByID(_ context.Context, id string) (*repository.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[id]
	if !ok {
		return nil, errors.NotFound("artifact", id)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeArtifactStore) UpdateStatus(_ context.Context, id string, status approval.ArtifactStatus, approvalState *approval.ApprovalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[id]
	if !ok {
		return errors.NotFound("artifact", id)
	}
	a.Status = status
	if approvalState != nil {
		a.ApprovalStatus = *approvalState
	}
	return nil
}

func (f *fakeArtifactStore) ListByOwner(_ context.Context, ownerID string, targetType *workflow.TargetType) ([]*repository.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Artifact
	for _, a := range f.artifacts {
		if a.OwnerID != ownerID {
			continue
		}
		if targetType != nil && a.Type != *targetType {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

type fakeIdentity struct {
	members     []client.TeamMember
	usersByRole map[string][]string
	failTeam    bool
}

func (f *fakeIdentity) GetTeamMembers(_ context.Context, _ string) ([]client.TeamMember, error) {
	if f.failTeam {
		return nil, errors.New(errors.ErrCodeInternal, "identity service unavailable")
	}
	return f.members, nil
}

func (f *fakeIdentity) GetUsersWithRole(_ context.Context, role string) ([]string, error) {
	return f.usersByRole[role], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notification.Event
}

func (f *fakePublisher) PublishEvent(_ context.Context, event notification.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) byType(t notification.EventType) []notification.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// testEnv wires an ApprovalService and ArtifactService over the fakes.
type testEnv struct {
	approvals *ApprovalService
	artifacts *ArtifactService
	workflows *fakeWorkflowStore
	requests  *fakeRequestStore
	actions   *fakeActionStore
	audits    *fakeAuditStore
	store     *fakeArtifactStore
	identity  *fakeIdentity
	publisher *fakePublisher
	notifier  *notification.Service
}

func newTestEnv() *testEnv {
	log := logger.Nop()
	actions := &fakeActionStore{}
	env := &testEnv{
		workflows: &fakeWorkflowStore{defs: map[string]*workflow.WorkflowDefinition{}},
		requests:  &fakeRequestStore{reqs: map[string]*workflow.ApprovalRequest{}, actions: actions},
		actions:   actions,
		audits:    &fakeAuditStore{},
		store:     &fakeArtifactStore{artifacts: map[string]*repository.Artifact{}},
		identity:  &fakeIdentity{usersByRole: map[string][]string{}},
		publisher: &fakePublisher{},
		notifier:  notification.NewService(notification.NewMemoryInbox()),
	}
	env.approvals = NewApprovalService(
		env.workflows, env.requests, env.actions, env.audits, env.store,
		env.identity, env.publisher, env.notifier,
		workflow.NewEngine(log), routing.NewEngine(log), "ws-1", log,
	)
	env.artifacts = NewArtifactService(
		env.store, env.audits, env.identity, env.publisher, env.notifier, log,
	)
	return env
}
