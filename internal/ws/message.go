package ws

import (
	"github.com/roomchat/internal/feed"
)

type EventType string

// Client -> server.
const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventTyping      EventType = "typing"
	EventSendMessage EventType = "send_message"
	EventMarkRead    EventType = "mark_read"
)

// Server -> client.
const (
	EventFeed         EventType = "event"
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
	EventSent         EventType = "sent"
	EventError        EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type  EventType `json:"type"`
	Topic string    `json:"topic,omitempty"`

	RoomID       string `json:"room_id,omitempty"`
	DirectChatID string `json:"direct_chat_id,omitempty"`
	Content      string `json:"content,omitempty"`
	IsTyping     bool   `json:"is_typing,omitempty"`

	// ClientID is echoed back on the ack or error of a send so the client can match its
	// optimistic copy.
	ClientID string `json:"client_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type     EventType   `json:"type"`
	Topic    string      `json:"topic,omitempty"`
	ClientID string      `json:"client_id,omitempty"`
	Event    *feed.Event `json:"event,omitempty"`
	Payload  any         `json:"payload,omitempty"`
}
