package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-mkt-approvals/internal/approval"
	"github.com/pesio-ai/be-mkt-approvals/internal/errors"
	"github.com/pesio-ai/be-mkt-approvals/internal/logger"
	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
	"github.com/pesio-ai/be-mkt-approvals/internal/service"
	"github.com/pesio-ai/be-mkt-approvals/internal/workflow"
)

// HTTPHandler translates HTTP requests into service calls. Identity is
// assumed resolved upstream: callers send the acting user id and role
// explicitly and the gateway is trusted to have verified them.
type HTTPHandler struct {
	approvals *service.ApprovalService
	artifacts *service.ArtifactService
	notifier  *notification.Service
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	approvals *service.ApprovalService,
	artifacts *service.ArtifactService,
	notifier *notification.Service,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		artifacts: artifacts,
		notifier:  notifier,
		log:       log,
	}
}

// CreateArtifact handles create artifact HTTP requests.
func (h *HTTPHandler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Type        string  `json:"type"`
		Title       string  `json:"title"`
		OwnerID     string  `json:"owner_id"`
		ContentType string  `json:"content_type"`
		Budget      float64 `json:"budget"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	artifact, err := h.artifacts.CreateArtifact(r.Context(), service.CreateArtifactInput{
		Type:        workflow.TargetType(req.Type),
		Title:       req.Title,
		OwnerID:     req.OwnerID,
		ContentType: req.ContentType,
		Budget:      req.Budget,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, artifact)
}

// GetArtifact handles get artifact HTTP requests.
func (h *HTTPHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, errors.InvalidInput("id", "artifact id is required"))
		return
	}
	artifact, err := h.artifacts.GetArtifact(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// GetArtifactActions returns the lifecycle actions the given role may take
// on an artifact, plus display metadata for its current state.
func (h *HTTPHandler) GetArtifactActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	role, ok := approval.ParseRole(r.URL.Query().Get("role"))
	if id == "" || !ok {
		h.respondError(w, errors.InvalidInput("id", "artifact id and a valid role are required"))
		return
	}

	actions, err := h.artifacts.GetAvailableActions(r.Context(), id, role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	artifact, err := h.artifacts.GetArtifact(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"actions":         actions,
		"state":           approval.GetStateInfo(artifact.Status),
		"approval_status": approval.GetApprovalStatusInfo(artifact.ApprovalStatus),
	})
}

// TransitionArtifact applies a single lifecycle action to an artifact.
func (h *HTTPHandler) TransitionArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ArtifactID string `json:"artifact_id"`
		Action     string `json:"action"`
		UserID     string `json:"user_id"`
		Role       string `json:"role"`
		Comment    string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	role, ok := approval.ParseRole(req.Role)
	if !ok {
		h.respondError(w, errors.InvalidInput("role", "unknown role"))
		return
	}

	artifact, err := h.artifacts.ExecuteAction(r.Context(), req.ArtifactID,
		approval.Action(req.Action),
		service.Actor{UserID: req.UserID, Role: role},
		req.Comment,
	)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}

// SubmitForApproval handles submit-for-approval HTTP requests.
func (h *HTTPHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ArtifactID  string     `json:"artifact_id"`
		WorkflowID  string     `json:"workflow_id"`
		RequesterID string     `json:"requester_id"`
		Role        string     `json:"role"`
		Notes       *string    `json:"notes"`
		Priority    string     `json:"priority"`
		DueDate     *time.Time `json:"due_date"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	role, ok := approval.ParseRole(req.Role)
	if !ok {
		h.respondError(w, errors.InvalidInput("role", "unknown role"))
		return
	}

	result, err := h.approvals.SubmitForApproval(r.Context(), service.SubmitInput{
		ArtifactID:    req.ArtifactID,
		WorkflowID:    req.WorkflowID,
		RequesterID:   req.RequesterID,
		RequesterRole: role,
		Notes:         req.Notes,
		DueDate:       req.DueDate,
		Priority:      workflow.Priority(req.Priority),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// ProcessAction handles approval action HTTP requests.
func (h *HTTPHandler) ProcessAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID        string `json:"request_id"`
		StageID          string `json:"stage_id"`
		ApproverID       string `json:"approver_id"`
		Role             string `json:"role"`
		Action           string `json:"action"`
		Comment          string `json:"comment"`
		DelegateToID     string `json:"delegate_to_id"`
		EscalationReason string `json:"escalation_reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	role, ok := approval.ParseRole(req.Role)
	if !ok {
		h.respondError(w, errors.InvalidInput("role", "unknown role"))
		return
	}

	result, err := h.approvals.ProcessApprovalAction(r.Context(), service.ActInput{
		RequestID:    req.RequestID,
		StageID:      req.StageID,
		ApproverID:   req.ApproverID,
		ApproverRole: role,
		Action:       workflow.ActionType(req.Action),
		Comment:      req.Comment,
		Metadata: workflow.ActionMetadata{
			DelegateToID:     req.DelegateToID,
			EscalationReason: req.EscalationReason,
		},
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CancelRequest handles cancel request HTTP requests.
func (h *HTTPHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string `json:"request_id"`
		UserID    string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	cancelled, err := h.approvals.CancelRequest(r.Context(), req.RequestID, req.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cancelled)
}

// GetPendingApprovals lists the in-flight requests awaiting a user.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	role, ok := approval.ParseRole(r.URL.Query().Get("role"))
	if userID == "" || !ok {
		h.respondError(w, errors.InvalidInput("user_id", "user id and a valid role are required"))
		return
	}

	pending, err := h.approvals.GetPendingApprovals(r.Context(), userID, role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// GetApprovalHistory returns the audit trail for a target.
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targetType := r.URL.Query().Get("target_type")
	targetID := r.URL.Query().Get("target_id")
	if targetType == "" || targetID == "" {
		h.respondError(w, errors.InvalidInput("target_id", "target type and id are required"))
		return
	}

	history, err := h.approvals.GetApprovalHistory(r.Context(), targetType, targetID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

// GetRequest returns a request and its recorded actions.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, errors.InvalidInput("id", "request id is required"))
		return
	}

	req, actions, err := h.approvals.GetRequest(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"request": req, "actions": actions})
}

// GetNotifications returns a user's inbox, newest first.
func (h *HTTPHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.respondError(w, errors.InvalidInput("user_id", "user id is required"))
		return
	}

	list, err := h.notifier.GetNotifications(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	unread, err := h.notifier.GetUnreadCount(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": list, "unread": unread})
}

// MarkNotificationRead marks one notification read, or the whole inbox when
// no notification id is given.
func (h *HTTPHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID         string `json:"user_id"`
		NotificationID string `json:"notification_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		h.respondError(w, errors.InvalidInput("user_id", "user id is required"))
		return
	}

	var err error
	if req.NotificationID == "" {
		err = h.notifier.MarkAllAsRead(r.Context(), req.UserID)
	} else {
		err = h.notifier.MarkAsRead(r.Context(), req.UserID, req.NotificationID)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	respondJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}
