package notification

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNotificationTemplates(t *testing.T) {
	s := NewService(NewMemoryInbox())

	tests := []struct {
		name         string
		event        Event
		wantTitle    string
		wantMessage  string
		wantPriority Priority
	}{
		{
			name:         "submitted",
			event:        Event{Type: EventContentSubmitted, ArtifactTitle: "Summer Sale", ActorName: "erin"},
			wantTitle:    "Content Submitted",
			wantMessage:  `"Summer Sale" was submitted for review by erin`,
			wantPriority: PriorityMedium,
		},
		{
			name:         "approved",
			event:        Event{Type: EventContentApproved, ArtifactTitle: "Summer Sale", ActorName: "alice"},
			wantTitle:    "Content Approved",
			wantMessage:  `"Summer Sale" was approved by alice`,
			wantPriority: PriorityHigh,
		},
		{
			name:         "rejected with detail",
			event:        Event{Type: EventContentRejected, ArtifactTitle: "Summer Sale", ActorName: "alice", Detail: "off brand"},
			wantTitle:    "Content Rejected",
			wantMessage:  `"Summer Sale" was rejected by alice: off brand`,
			wantPriority: PriorityHigh,
		},
		{
			name:         "changes requested is actor first",
			event:        Event{Type: EventChangesRequested, ArtifactTitle: "Summer Sale", ActorName: "alice"},
			wantTitle:    "Changes Requested",
			wantMessage:  `alice requested changes on "Summer Sale"`,
			wantPriority: PriorityMedium,
		},
		{
			name:         "delegated is actor first",
			event:        Event{Type: EventApprovalDelegated, ArtifactTitle: "Summer Sale", ActorName: "alice"},
			wantTitle:    "Approval Delegated",
			wantMessage:  `alice delegated the approval of "Summer Sale" to you`,
			wantPriority: PriorityMedium,
		},
		{
			name:         "escalated",
			event:        Event{Type: EventApprovalEscalated, ArtifactTitle: "Summer Sale", ActorName: "system", Detail: "timeout"},
			wantTitle:    "Approval Escalated",
			wantMessage:  `the approval of "Summer Sale" was escalated by system: timeout`,
			wantPriority: PriorityHigh,
		},
		{
			name:         "unknown type falls back",
			event:        Event{Type: EventType("something_else"), ArtifactTitle: "X", ActorName: "y"},
			wantTitle:    "Notification",
			wantMessage:  `"X": update by y`,
			wantPriority: PriorityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := s.CreateNotification(tt.event)
			assert.NotEmpty(t, n.ID)
			assert.Equal(t, tt.event.Type, n.Type)
			assert.Equal(t, tt.wantTitle, n.Title)
			assert.Equal(t, tt.wantMessage, n.Message)
			assert.Equal(t, tt.wantPriority, n.Priority)
			assert.False(t, n.Read)
			assert.False(t, n.CreatedAt.IsZero())
		})
	}
}

func TestNotifyFansOutPerRecipient(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryInbox())

	err := s.Notify(ctx, Event{
		Type:          EventApprovalRequired,
		ArtifactTitle: "Summer Sale",
		ActorName:     "erin",
		Recipients:    []string{"alice", "bob"},
	})
	require.NoError(t, err)

	for _, user := range []string{"alice", "bob"} {
		list, err := s.GetNotifications(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 1, user)
	}

	// Records are independent: alice reading hers leaves bob's unread.
	alices, _ := s.GetNotifications(ctx, "alice")
	require.NoError(t, s.MarkAsRead(ctx, "alice", alices[0].ID))

	count, err := s.GetUnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = s.GetUnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInboxCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryInbox())

	for i := 0; i < InboxCapacity+10; i++ {
		n := s.CreateNotification(Event{
			Type:          EventContentSubmitted,
			ArtifactTitle: fmt.Sprintf("artifact-%d", i),
			ActorName:     "erin",
		})
		require.NoError(t, s.AddNotification(ctx, "alice", n))
	}

	list, err := s.GetNotifications(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, InboxCapacity)

	// Newest first; the ten oldest fell off the end.
	assert.Contains(t, list[0].Message, fmt.Sprintf("artifact-%d", InboxCapacity+9))
	last := list[len(list)-1]
	assert.Contains(t, last.Message, "artifact-10")
}

func TestMarkReadUnknownIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryInbox())

	n := s.CreateNotification(Event{Type: EventContentSubmitted, ArtifactTitle: "A", ActorName: "erin"})
	require.NoError(t, s.AddNotification(ctx, "alice", n))

	require.NoError(t, s.MarkAsRead(ctx, "alice", "does-not-exist"))
	require.NoError(t, s.MarkAsRead(ctx, "nobody", n.ID))

	count, err := s.GetUnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkAllAsRead(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryInbox())

	for i := 0; i < 3; i++ {
		n := s.CreateNotification(Event{Type: EventContentSubmitted, ArtifactTitle: "A", ActorName: "erin"})
		require.NoError(t, s.AddNotification(ctx, "alice", n))
	}

	require.NoError(t, s.MarkAllAsRead(ctx, "alice"))
	count, err := s.GetUnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// An empty inbox is fine too.
	require.NoError(t, s.MarkAllAsRead(ctx, "ghost"))
}
