package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

func sortByName(rooms []model.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})
}

func nameContains(name, query string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(query))
}

func (c *Client) CreateRoom(ctx context.Context, room *model.Room) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room.ID]; ok {
		return storage.ErrConflict
	}
	c.rooms[room.ID] = *room
	c.members[room.ID] = map[string]model.Membership{
		room.CreatedBy: {
			RoomID:    room.ID,
			UserID:    room.CreatedBy,
			Status:    model.MembershipAccepted,
			CreatedAt: room.CreatedAt,
			UpdatedAt: room.CreatedAt,
		},
	}
	return nil
}

func (c *Client) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rooms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (c *Client) UpdateRoom(ctx context.Context, id, name string, isPrivate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Name = name
	r.IsPrivate = isPrivate
	c.rooms[id] = r
	return nil
}

func (c *Client) ListRooms(ctx context.Context) ([]model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (c *Client) ListMemberRooms(ctx context.Context, userID string, status model.MembershipStatus, nameQuery string) ([]model.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Room, 0)
	for roomID, ms := range c.members {
		m, ok := ms[userID]
		if !ok || m.Status != status {
			continue
		}
		r := c.rooms[roomID]
		if nameQuery != "" && !nameContains(r.Name, nameQuery) {
			continue
		}
		out = append(out, r)
	}
	sortByName(out)
	return out, nil
}

func (c *Client) SearchPublicRooms(ctx context.Context, query string, limit, offset int) ([]model.Room, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := make([]model.Room, 0)
	for _, r := range c.rooms {
		if !r.IsPrivate && nameContains(r.Name, query) {
			matched = append(matched, r)
		}
	}
	sortByName(matched)
	total := len(matched)
	if offset >= total {
		return []model.Room{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (c *Client) CountMembers(ctx context.Context, roomIDs []string) (map[string]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counts := make(map[string]int, len(roomIDs))
	for _, id := range roomIDs {
		n := 0
		for _, m := range c.members[id] {
			if m.Status == model.MembershipAccepted {
				n++
			}
		}
		if n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}
