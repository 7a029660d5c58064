package client

import (
	"sort"
	"sync"
	"time"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
)

// MessageLog is the ordered local copy of one channel. The user's own messages are applied
// optimistically when sent, so their feed inserts are skipped; others are appended once per id.
type MessageLog struct {
	self    string
	channel model.ChannelRef
	rows    *feed.Cache[model.Message]

	mu      sync.Mutex
	pending map[string]model.Message // client id
}

func NewMessageLog(selfID string, ch model.ChannelRef) *MessageLog {
	return &MessageLog{
		self:    selfID,
		channel: ch,
		rows:    feed.NewCache[model.Message](),
		pending: make(map[string]model.Message),
	}
}

// Seed loads a fetched page.
func (l *MessageLog) Seed(msgs []model.Message) {
	for _, m := range msgs {
		l.rows.Put(m.ID, m, versionOf(m))
	}
}

func versionOf(m model.Message) time.Time {
	if m.EditedAt != nil {
		return *m.EditedAt
	}
	return m.CreatedAt
}

// Optimistic shows a message the user is sending before the server confirms it.
func (l *MessageLog) Optimistic(clientID string, m model.Message) {
	l.mu.Lock()
	l.pending[clientID] = m
	l.mu.Unlock()
}

// Confirm replaces the optimistic copy with the stored message from the send ack.
func (l *MessageLog) Confirm(clientID string, m model.Message) {
	l.mu.Lock()
	delete(l.pending, clientID)
	l.mu.Unlock()
	l.rows.Put(m.ID, m, versionOf(m))
}

// Fail drops an optimistic message whose send was rejected.
func (l *MessageLog) Fail(clientID string) {
	l.mu.Lock()
	delete(l.pending, clientID)
	l.mu.Unlock()
}

// Apply folds a feed event of this channel and reports whether the log changed.
func (l *MessageLog) Apply(ev feed.Event) (bool, error) {
	if ev.Table != feed.TableMessages || ev.Topic != l.channel.Topic() {
		return false, nil
	}
	if ev.Op == feed.OpInsert {
		if _, ok := l.rows.Get(ev.Key); ok {
			return false, nil
		}
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			return false, err
		}
		if m.SenderID == l.self {
			return false, nil
		}
	}
	return l.rows.Apply(ev)
}

// Messages returns confirmed messages by creation time, then id, followed by pending sends.
func (l *MessageLog) Messages() []model.Message {
	out := l.rows.Values()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	l.mu.Lock()
	pending := make([]model.Message, 0, len(l.pending))
	for _, m := range l.pending {
		pending = append(pending, m)
	}
	l.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return append(out, pending...)
}
