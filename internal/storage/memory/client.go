// Package memory is a single-process implementation of the storage interfaces. Every mutating
// call holds one lock for its whole duration, which gives the same all-or-nothing behavior as a
// database transaction.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// typingTTL bounds how long a typing row survives without refresh.
const typingTTL = 30 * time.Second

type item struct {
	val model.TypingStatus
	exp time.Time
}

type Client struct {
	mu sync.RWMutex

	users    map[string]model.User
	rooms    map[string]model.Room
	members  map[string]map[string]model.Membership // room id -> user id
	directs  map[string]model.DirectChat
	pairs    map[[2]string]string
	messages map[string]*model.Message
	channels map[model.ChannelRef][]string
	notes    map[string]model.Notification

	typing map[string]map[string]item
	online map[string]int

	now func() time.Time
}

var (
	_ storage.Store         = (*Client)(nil)
	_ storage.PresenceStore = (*Client)(nil)
)

func New() *Client {
	return &Client{
		users:    make(map[string]model.User),
		rooms:    make(map[string]model.Room),
		members:  make(map[string]map[string]model.Membership),
		directs:  make(map[string]model.DirectChat),
		pairs:    make(map[[2]string]string),
		messages: make(map[string]*model.Message),
		channels: make(map[model.ChannelRef][]string),
		notes:    make(map[string]model.Notification),
		typing:   make(map[string]map[string]item),
		online:   make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Used by tests.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Client) Close() error { return nil }

// acceptedLocked returns accepted member ids of roomID in join order. Caller holds mu.
func (c *Client) acceptedLocked(roomID string) []string {
	list := make([]model.Membership, 0, len(c.members[roomID]))
	for _, m := range c.members[roomID] {
		if m.Status == model.MembershipAccepted {
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].UserID < list[j].UserID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.UserID
	}
	return ids
}

// fanoutLocked stores the notifications of fan. Caller holds the write lock.
func (c *Client) fanoutLocked(fan *model.Fanout, now time.Time) []model.Notification {
	if fan == nil {
		return nil
	}
	recipients := fan.Recipients
	if len(recipients) == 0 && fan.RoomID != "" {
		recipients = c.acceptedLocked(fan.RoomID)
	}
	notes := fan.Build(recipients, uuid.NewString, now)
	for _, n := range notes {
		c.notes[n.ID] = n
	}
	return notes
}
