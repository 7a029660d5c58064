package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

func (c *Client) UpsertUser(ctx context.Context, u *model.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.users[u.ID]; ok {
		u.CreatedAt = old.CreatedAt
	}
	c.users[u.ID] = *u
	return nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q := strings.ToLower(query)
	out := make([]model.User, 0)
	for _, u := range c.users {
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
