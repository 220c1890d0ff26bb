package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisInbox stores each user's inbox as a redis list of JSON-encoded
// notifications, newest at the head. LTRIM enforces the capacity bound, so
// eviction is oldest-first just like MemoryInbox.
type RedisInbox struct {
	client *redis.Client
}

// NewRedisInbox creates a redis-backed inbox store.
func NewRedisInbox(client *redis.Client) *RedisInbox {
	return &RedisInbox{client: client}
}

func inboxKey(userID string) string {
	return fmt.Sprintf("mkt:inbox:%s", userID)
}

// Append pushes the notification to the head of the user's list and trims the
// tail to InboxCapacity.
func (r *RedisInbox) Append(ctx context.Context, userID string, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := inboxKey(userID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, InboxCapacity-1)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns the user's notifications newest-first.
func (r *RedisInbox) List(ctx context.Context, userID string) ([]*Notification, error) {
	raw, err := r.client.LRange(ctx, inboxKey(userID), 0, InboxCapacity-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Notification, 0, len(raw))
	for _, item := range raw {
		n := &Notification{}
		if err := json.Unmarshal([]byte(item), n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead rewrites the matching entry in place; unknown ids are a no-op.
func (r *RedisInbox) MarkRead(ctx context.Context, userID, notificationID string) error {
	key := inboxKey(userID)
	raw, err := r.client.LRange(ctx, key, 0, InboxCapacity-1).Result()
	if err != nil {
		return err
	}

	for i, item := range raw {
		n := &Notification{}
		if err := json.Unmarshal([]byte(item), n); err != nil {
			continue
		}
		if n.ID != notificationID {
			continue
		}
		if n.Read {
			return nil
		}
		n.Read = true
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		return r.client.LSet(ctx, key, int64(i), data).Err()
	}
	return nil
}

// MarkAllRead rewrites every unread entry in the user's list.
func (r *RedisInbox) MarkAllRead(ctx context.Context, userID string) error {
	key := inboxKey(userID)
	raw, err := r.client.LRange(ctx, key, 0, InboxCapacity-1).Result()
	if err != nil {
		return err
	}

	for i, item := range raw {
		n := &Notification{}
		if err := json.Unmarshal([]byte(item), n); err != nil {
			continue
		}
		if n.Read {
			continue
		}
		n.Read = true
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		if err := r.client.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return err
		}
	}
	return nil
}
