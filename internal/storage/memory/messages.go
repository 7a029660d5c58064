package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

func (c *Client) CreateMessage(ctx context.Context, m *model.Message, fan *model.Fanout) ([]model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := m.Channel()
	switch ch.Kind {
	case model.ChannelRoom:
		if _, ok := c.rooms[ch.ID]; !ok {
			return nil, storage.ErrNotFound
		}
		mem, ok := c.members[ch.ID][m.SenderID]
		if !ok || mem.Status != model.MembershipAccepted {
			return nil, storage.ErrNotAMember
		}
	case model.ChannelDirect:
		d, ok := c.directs[ch.ID]
		if !ok {
			return nil, storage.ErrNotFound
		}
		if !d.Has(m.SenderID) {
			return nil, storage.ErrNotAMember
		}
	default:
		return nil, errors.New("message without channel")
	}
	if _, dup := c.messages[m.ID]; dup {
		return nil, storage.ErrConflict
	}
	stored := *m
	c.messages[m.ID] = &stored
	c.channels[ch] = append(c.channels[ch], m.ID)
	return c.fanoutLocked(fan, m.CreatedAt), nil
}

func (c *Client) withSender(m model.Message) model.Message {
	if u, ok := c.users[m.SenderID]; ok {
		m.SenderName = u.Username
	}
	return m
}

func (c *Client) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := c.withSender(*m)
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, ch model.ChannelRef, cursor *model.Cursor, limit int) ([]model.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Message, 0, limit)
	for _, id := range c.channels[ch] {
		m := c.messages[id]
		if cursor.Includes(m) {
			out = append(out, c.withSender(*m))
		}
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

func (c *Client) UpdateMessageContent(ctx context.Context, id, senderID, content string, editedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok || m.SenderID != senderID {
		return storage.ErrNotFound
	}
	m.Content = content
	m.IsEdited = true
	t := editedAt
	m.EditedAt = &t
	return nil
}

func (c *Client) MarkChannelRead(ctx context.Context, ch model.ChannelRef, readerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, id := range c.channels[ch] {
		m := c.messages[id]
		if m.SenderID != readerID && m.Status != model.MessageStatusRead {
			m.Status = model.MessageStatusRead
			n++
		}
	}
	return n, nil
}

func (c *Client) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*model.DirectChat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, b := model.OrderPair(userA, userB)
	if id, ok := c.pairs[[2]string{a, b}]; ok {
		d := c.directs[id]
		return &d, nil
	}
	d := model.DirectChat{ID: uuid.NewString(), UserA: a, UserB: b, CreatedAt: c.now()}
	c.directs[d.ID] = d
	c.pairs[[2]string{a, b}] = d.ID
	return &d, nil
}

func (c *Client) GetDirectChat(ctx context.Context, id string) (*model.DirectChat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.directs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &d, nil
}
