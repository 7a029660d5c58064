package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roomchat/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrNotAMember = errors.New("not a member")
)

// UserStore holds user profiles. Implementations: repository.UserRepository, memory.Client.
type UserStore interface {
	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
}

// RoomStore holds rooms and the aggregate reads of the room directory.
type RoomStore interface {
	// CreateRoom inserts the room and the creator's accepted membership atomically.
	CreateRoom(ctx context.Context, room *model.Room) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	UpdateRoom(ctx context.Context, id, name string, isPrivate bool) error
	ListRooms(ctx context.Context) ([]model.Room, error)
	// ListMemberRooms returns rooms where userID has the given status whose name contains
	// nameQuery case-insensitively (empty matches all).
	ListMemberRooms(ctx context.Context, userID string, status model.MembershipStatus, nameQuery string) ([]model.Room, error)
	SearchPublicRooms(ctx context.Context, query string, limit, offset int) ([]model.Room, int, error)
	// CountMembers returns accepted member counts for all given rooms in one grouped read.
	CountMembers(ctx context.Context, roomIDs []string) (map[string]int, error)
}

// MembershipStore applies membership transitions. Each mutating call is one transaction that
// also writes the notifications described by fan (nil for none) and returns them.
type MembershipStore interface {
	GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error)
	UserMemberships(ctx context.Context, userID string) (map[string]model.MembershipStatus, error)
	AcceptedMemberIDs(ctx context.Context, roomID string) ([]string, error)
	ListMemberships(ctx context.Context, roomID string, status model.MembershipStatus) ([]model.Membership, error)
	// InsertMembership returns ErrConflict if any record already exists for the pair.
	InsertMembership(ctx context.Context, m *model.Membership, fan *model.Fanout) ([]model.Notification, error)
	// TransitionMembership moves the pair from one status to another; ErrNotFound if no record has from.
	TransitionMembership(ctx context.Context, roomID, userID string, from, to model.MembershipStatus, fan *model.Fanout) ([]model.Notification, error)
	// DeleteMembership removes the record if it has one of statuses (any when empty).
	// Returns false without error when nothing matched.
	DeleteMembership(ctx context.Context, roomID, userID string, statuses []model.MembershipStatus, fan *model.Fanout) (bool, []model.Notification, error)
}

// MessageStore holds messages and direct chats.
type MessageStore interface {
	// CreateMessage checks within the same transaction that the sender may post to the channel
	// (ErrNotAMember otherwise), inserts the message and the fan-out notifications.
	CreateMessage(ctx context.Context, m *model.Message, fan *model.Fanout) ([]model.Notification, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages returns up to limit messages strictly past cursor, newest first.
	ListMessages(ctx context.Context, ch model.ChannelRef, cursor *model.Cursor, limit int) ([]model.Message, error)
	UpdateMessageContent(ctx context.Context, id, senderID, content string, editedAt time.Time) error
	// MarkChannelRead marks every message not sent by readerID as read; returns rows changed.
	MarkChannelRead(ctx context.Context, ch model.ChannelRef, readerID string) (int64, error)
	GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*model.DirectChat, error)
	GetDirectChat(ctx context.Context, id string) (*model.DirectChat, error)
}

// NotificationStore mutations are scoped to the owning user; a row of another user is ErrNotFound.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	SetNotificationStatus(ctx context.Context, id, userID string, status model.NotificationStatus) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id, userID string) error
	DeleteAllNotifications(ctx context.Context, userID string) (int64, error)
}

// PresenceStore keeps ephemeral typing and online signals.
// Implementations: redis.Client (TTL enforced by Redis), memory.Client.
type PresenceStore interface {
	SetTyping(ctx context.Context, st model.TypingStatus) error
	// ListTyping returns rows of roomID updated at or after since.
	ListTyping(ctx context.Context, roomID string, since time.Time) ([]model.TypingStatus, error)
	// SetOnline adjusts the live connection count of userID by delta. A zero delta only renews
	// the mark's lifetime where the store expires it.
	SetOnline(ctx context.Context, userID string, delta int) error
	OnlineUsers(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Store groups the row stores backed by one database.
type Store interface {
	UserStore
	RoomStore
	MembershipStore
	MessageStore
	NotificationStore
}
