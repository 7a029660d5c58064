package memory

import (
	"context"
	"sort"
	"time"

	"github.com/roomchat/internal/model"
)

func (c *Client) SetTyping(ctx context.Context, st model.TypingStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.typing[st.RoomID]
	if room == nil {
		room = make(map[string]item)
		c.typing[st.RoomID] = room
	}
	if !st.IsTyping {
		delete(room, st.UserID)
		return nil
	}
	room[st.UserID] = item{val: st, exp: st.UpdatedAt.Add(typingTTL)}
	return nil
}

func (c *Client) ListTyping(ctx context.Context, roomID string, since time.Time) ([]model.TypingStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]model.TypingStatus, 0)
	for uid, it := range c.typing[roomID] {
		if now.After(it.exp) {
			delete(c.typing[roomID], uid)
			continue
		}
		if !it.val.UpdatedAt.Before(since) {
			out = append(out, it.val)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (c *Client) SetOnline(ctx context.Context, userID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.online[userID] + delta
	if n <= 0 {
		delete(c.online, userID)
		return nil
	}
	c.online[userID] = n
	return nil
}

func (c *Client) OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if c.online[id] > 0 {
			out[id] = true
		}
	}
	return out, nil
}
