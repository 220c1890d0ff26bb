package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-mkt-approvals/internal/notification"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the platform notifications service, which handles the actual
// email/push/in-app delivery.
//
// Subject convention: notifications.mkt.<event_type>
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so delivery failures never interrupt approval
// operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// DeliveryEvent is the JSON schema published to NATS.
type DeliveryEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishEvent publishes one workflow event for external delivery.
// Subject: notifications.mkt.<event_type>
func (p *NotificationPublisher) PublishEvent(_ context.Context, event notification.Event) {
	if p.nc == nil {
		return
	}
	if len(event.Recipients) == 0 && len(event.AudienceRoles) == 0 {
		return
	}

	payload := map[string]interface{}{
		"artifact_title": event.ArtifactTitle,
	}
	if event.Detail != "" {
		payload["detail"] = event.Detail
	}
	if len(event.AudienceRoles) > 0 {
		payload["audience_roles"] = event.AudienceRoles
	}

	msg := &DeliveryEvent{
		EventType:    string(event.Type),
		ActorID:      event.ActorName,
		Recipients:   event.Recipients,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Severity:     "info",
		Category:     "mkt_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.mkt.%s", event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
