package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is one of the fixed workflow event kinds that produce a
// notification.
type EventType string

const (
	EventContentSubmitted  EventType = "content_submitted"
	EventContentApproved   EventType = "content_approved"
	EventContentRejected   EventType = "content_rejected"
	EventChangesRequested  EventType = "content_changes_requested"
	EventApprovalRequired  EventType = "approval_required"
	EventApprovalDelegated EventType = "approval_delegated"
	EventApprovalEscalated EventType = "approval_escalated"
	EventContentPublished  EventType = "content_published"
	EventRequestExpired    EventType = "approval_expired"
)

// Priority is the notification display priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Event is a workflow occurrence to announce. The engine emits these;
// delivery (email/push) happens outside this package.
type Event struct {
	Type          EventType
	ArtifactTitle string
	ActorName     string
	ResourceType  string
	ResourceID    string
	Detail        string   // comment or reason, when the event carries one
	Recipients    []string // resolved user ids
	AudienceRoles []string // role pools the boundary layer resolves to ids
}

// Notification is one inbox entry.
type Notification struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// InboxCapacity caps each user's inbox; the oldest entries beyond it are
// evicted.
const InboxCapacity = 50

// Inbox stores per-user notifications. Implementations enforce the
// InboxCapacity bound on append.
type Inbox interface {
	Append(ctx context.Context, userID string, n *Notification) error
	// List returns the user's notifications newest-first, at most InboxCapacity.
	List(ctx context.Context, userID string) ([]*Notification, error)
	// MarkRead flags one notification as read; unknown ids are a no-op.
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

type template struct {
	title    string
	message  string // fmt verbs: artifact title, actor name
	priority Priority
}

var templates = map[EventType]template{
	EventContentSubmitted:  {"Content Submitted", "%q was submitted for review by %s", PriorityMedium},
	EventContentApproved:   {"Content Approved", "%q was approved by %s", PriorityHigh},
	EventContentRejected:   {"Content Rejected", "%q was rejected by %s", PriorityHigh},
	EventChangesRequested:  {"Changes Requested", "%s requested changes on %q", PriorityMedium},
	EventApprovalRequired:  {"Approval Required", "%q is awaiting your approval (submitted by %s)", PriorityMedium},
	EventApprovalDelegated: {"Approval Delegated", "%s delegated the approval of %q to you", PriorityMedium},
	EventApprovalEscalated: {"Approval Escalated", "the approval of %q was escalated by %s", PriorityHigh},
	EventContentPublished:  {"Content Published", "%q was published by %s", PriorityMedium},
	EventRequestExpired:    {"Approval Expired", "the approval request for %q expired without a decision (%s)", PriorityHigh},
}

// Service turns workflow events into notifications and manages per-user
// inboxes through an injected store.
type Service struct {
	inbox Inbox
}

// NewService creates a notification service backed by the given inbox store.
func NewService(inbox Inbox) *Service {
	return &Service{inbox: inbox}
}

// CreateNotification builds a notification record from an event. It performs
// no delivery and touches no store.
func (s *Service) CreateNotification(event Event) *Notification {
	tmpl, ok := templates[event.Type]
	if !ok {
		tmpl = template{"Notification", "%q: update by %s", PriorityLow}
	}

	var message string
	switch event.Type {
	case EventChangesRequested, EventApprovalDelegated:
		// actor-first templates
		message = fmt.Sprintf(tmpl.message, event.ActorName, event.ArtifactTitle)
	default:
		message = fmt.Sprintf(tmpl.message, event.ArtifactTitle, event.ActorName)
	}
	if event.Detail != "" {
		message = fmt.Sprintf("%s: %s", message, event.Detail)
	}

	return &Notification{
		ID:        uuid.NewString(),
		Type:      event.Type,
		Title:     tmpl.title,
		Message:   message,
		Priority:  tmpl.priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Notify builds one notification per recipient and appends each to that
// recipient's inbox. Each recipient gets its own record so read state is
// tracked independently.
func (s *Service) Notify(ctx context.Context, event Event) error {
	for _, userID := range event.Recipients {
		n := s.CreateNotification(event)
		if err := s.inbox.Append(ctx, userID, n); err != nil {
			return err
		}
	}
	return nil
}

// AddNotification appends an already-built notification to a user's inbox.
func (s *Service) AddNotification(ctx context.Context, userID string, n *Notification) error {
	return s.inbox.Append(ctx, userID, n)
}

// GetNotifications returns the user's most recent notifications, newest first.
func (s *Service) GetNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	return s.inbox.List(ctx, userID)
}

// GetUnreadCount returns how many of the user's notifications are unread.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := s.inbox.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkAsRead flags one notification as read. Unknown ids are a no-op.
func (s *Service) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	return s.inbox.MarkRead(ctx, userID, notificationID)
}

// MarkAllAsRead flags every notification in the user's inbox as read.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.inbox.MarkAllRead(ctx, userID)
}
