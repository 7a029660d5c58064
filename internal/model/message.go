package model

import (
	"strings"
	"time"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

type ChannelKind string

const (
	ChannelRoom   ChannelKind = "room"
	ChannelDirect ChannelKind = "direct"
)

// ChannelRef addresses the message stream of a room or of a direct chat.
type ChannelRef struct {
	Kind ChannelKind `json:"kind"`
	ID   string      `json:"id"`
}

func RoomChannel(id string) ChannelRef   { return ChannelRef{Kind: ChannelRoom, ID: id} }
func DirectChannel(id string) ChannelRef { return ChannelRef{Kind: ChannelDirect, ID: id} }

// Topic is the broadcast topic name of the channel, e.g. "room:<id>".
func (c ChannelRef) Topic() string { return string(c.Kind) + ":" + c.ID }

// ParseChannelTopic is the inverse of Topic for room and direct topics.
func ParseChannelTopic(topic string) (ChannelRef, bool) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return ChannelRef{}, false
	}
	switch ChannelKind(kind) {
	case ChannelRoom, ChannelDirect:
		return ChannelRef{Kind: ChannelKind(kind), ID: id}, true
	}
	return ChannelRef{}, false
}

type Message struct {
	ID           string        `json:"id"`
	RoomID       *string       `json:"room_id,omitempty"`
	DirectChatID *string       `json:"direct_chat_id,omitempty"`
	SenderID     string        `json:"sender_id"`
	SenderName   string        `json:"sender_name,omitempty"`
	Content      string        `json:"content"`
	Status       MessageStatus `json:"status"`
	IsEdited     bool          `json:"is_edited"`
	CreatedAt    time.Time     `json:"created_at"`
	EditedAt     *time.Time    `json:"edited_at,omitempty"`
}

// Channel returns the channel the message belongs to.
func (m *Message) Channel() ChannelRef {
	if m.RoomID != nil {
		return RoomChannel(*m.RoomID)
	}
	if m.DirectChatID != nil {
		return DirectChannel(*m.DirectChatID)
	}
	return ChannelRef{}
}

// Cursor points just past the oldest message of a page. Ties on CreatedAt are broken by id.
type Cursor struct {
	Before   time.Time `json:"before"`
	BeforeID string    `json:"before_id"`
}

// Includes reports whether m sorts strictly past the cursor in newest-first order,
// i.e. whether m may appear on a page requested with this cursor.
func (c *Cursor) Includes(m *Message) bool {
	if c == nil {
		return true
	}
	if m.CreatedAt.Equal(c.Before) {
		return m.ID < c.BeforeID
	}
	return m.CreatedAt.Before(c.Before)
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor *Cursor   `json:"next_cursor,omitempty"`
}
