package memory

import (
	"context"
	"sort"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

func (c *Client) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Notification, 0)
	for _, n := range c.notes {
		if n.UserID != userID || (unreadOnly && n.Status != model.NotificationUnread) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) CountUnread(ctx context.Context, userID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, note := range c.notes {
		if note.UserID == userID && note.Status == model.NotificationUnread {
			n++
		}
	}
	return n, nil
}

func (c *Client) SetNotificationStatus(ctx context.Context, id, userID string, status model.NotificationStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.notes[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	n.Status = status
	c.notes[id] = n
	return nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed int64
	for id, n := range c.notes {
		if n.UserID == userID && n.Status == model.NotificationUnread {
			n.Status = model.NotificationRead
			c.notes[id] = n
			changed++
		}
	}
	return changed, nil
}

func (c *Client) DeleteNotification(ctx context.Context, id, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.notes[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	delete(c.notes, id)
	return nil
}

func (c *Client) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, note := range c.notes {
		if note.UserID == userID {
			delete(c.notes, id)
			n++
		}
	}
	return n, nil
}
