package memory

import (
	"context"
	"sort"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

func (c *Client) GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[roomID][userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (c *Client) UserMemberships(ctx context.Context, userID string) (map[string]model.MembershipStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.MembershipStatus)
	for roomID, ms := range c.members {
		if m, ok := ms[userID]; ok {
			out[roomID] = m.Status
		}
	}
	return out, nil
}

func (c *Client) AcceptedMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acceptedLocked(roomID), nil
}

func (c *Client) ListMemberships(ctx context.Context, roomID string, status model.MembershipStatus) ([]model.Membership, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Membership, 0)
	for _, m := range c.members[roomID] {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) InsertMembership(ctx context.Context, m *model.Membership, fan *model.Fanout) ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[m.RoomID]; !ok {
		return nil, storage.ErrNotFound
	}
	ms := c.members[m.RoomID]
	if ms == nil {
		ms = make(map[string]model.Membership)
		c.members[m.RoomID] = ms
	}
	if _, exists := ms[m.UserID]; exists {
		return nil, storage.ErrConflict
	}
	rec := *m
	rec.UpdatedAt = rec.CreatedAt
	ms[m.UserID] = rec
	return c.fanoutLocked(fan, m.CreatedAt), nil
}

func (c *Client) TransitionMembership(ctx context.Context, roomID, userID string, from, to model.MembershipStatus, fan *model.Fanout) ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[roomID][userID]
	if !ok || m.Status != from {
		return nil, storage.ErrNotFound
	}
	now := c.now()
	m.Status = to
	m.UpdatedAt = now
	c.members[roomID][userID] = m
	return c.fanoutLocked(fan, now), nil
}

func (c *Client) DeleteMembership(ctx context.Context, roomID, userID string, statuses []model.MembershipStatus, fan *model.Fanout) (bool, []model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[roomID][userID]
	if !ok {
		return false, nil, nil
	}
	if len(statuses) > 0 {
		match := false
		for _, s := range statuses {
			if m.Status == s {
				match = true
				break
			}
		}
		if !match {
			return false, nil, nil
		}
	}
	delete(c.members[roomID], userID)
	return true, c.fanoutLocked(fan, c.now()), nil
}
