package notification

import (
	"context"
	"sync"
)

// MemoryInbox is an in-process Inbox, suitable for tests and single-node
// deployments. Entries are kept oldest-first internally; List reverses.
type MemoryInbox struct {
	mu     sync.RWMutex
	byUser map[string][]*Notification
}

// NewMemoryInbox creates an empty in-memory inbox store.
func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{byUser: make(map[string][]*Notification)}
}

// Append adds a notification, evicting the oldest entry once the user's inbox
// exceeds InboxCapacity.
func (m *MemoryInbox) Append(_ context.Context, userID string, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.byUser[userID], n)
	if excess := len(entries) - InboxCapacity; excess > 0 {
		entries = entries[excess:]
	}
	m.byUser[userID] = entries
	return nil
}

// List returns the user's notifications newest-first.
func (m *MemoryInbox) List(_ context.Context, userID string) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byUser[userID]
	out := make([]*Notification, len(entries))
	for i, n := range entries {
		out[len(entries)-1-i] = n
	}
	return out, nil
}

// MarkRead flags a single notification as read; unknown ids are a no-op.
func (m *MemoryInbox) MarkRead(_ context.Context, userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.byUser[userID] {
		if n.ID == notificationID {
			n.Read = true
			return nil
		}
	}
	return nil
}

// MarkAllRead flags every notification in the user's inbox as read.
func (m *MemoryInbox) MarkAllRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.byUser[userID] {
		n.Read = true
	}
	return nil
}
