package model

import "time"

type NotificationType string

const (
	NotificationNewMessage   NotificationType = "new_message"
	NotificationJoinRequest  NotificationType = "join_request"
	NotificationJoinAccepted NotificationType = "join_accepted"
	NotificationJoinRejected NotificationType = "join_rejected"
	NotificationMemberJoined NotificationType = "member_joined"
)

type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	SenderID  string             `json:"sender_id"`
	RoomID    *string            `json:"room_id,omitempty"`
	Type      NotificationType   `json:"type"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// Fanout describes notifications written in the same transaction as the change that caused them.
type Fanout struct {
	Type     NotificationType
	SenderID string
	RoomID   string
	Message  string
	// Recipients, when empty, defaults to the accepted members of RoomID except SenderID.
	// For direct chats it must be set explicitly.
	Recipients []string
}

// Build expands the fan-out into one unread notification per recipient, skipping the sender.
func (f *Fanout) Build(recipients []string, newID func() string, now time.Time) []Notification {
	out := make([]Notification, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, uid := range recipients {
		if uid == f.SenderID {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		n := Notification{
			ID:        newID(),
			UserID:    uid,
			SenderID:  f.SenderID,
			Type:      f.Type,
			Message:   f.Message,
			Status:    NotificationUnread,
			CreatedAt: now,
		}
		if f.RoomID != "" {
			roomID := f.RoomID
			n.RoomID = &roomID
		}
		out = append(out, n)
	}
	return out
}
