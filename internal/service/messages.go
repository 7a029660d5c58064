package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const (
	PageSize         = 50
	MaxMessageLength = 4000
	previewLength    = 120
)

// TableMessageReads marks batch read receipts; the key is the channel topic.
const TableMessageReads = "message_reads"

type MessageService struct {
	*deps
}

// ReadReceipt is published when a reader marks a channel read.
type ReadReceipt struct {
	Channel  model.ChannelRef `json:"channel"`
	ReaderID string           `json:"reader_id"`
	Count    int64            `json:"count"`
}

func normalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrInvalidContent
	}
	return content, nil
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	r := []rune(content)
	return string(r[:previewLength]) + "…"
}

// Authorize checks that userID may read and write the channel. For a direct chat it returns the
// chat.
func (s *MessageService) Authorize(ctx context.Context, userID string, ch model.ChannelRef) (*model.DirectChat, error) {
	return s.authorize(ctx, userID, ch)
}

func (d *deps) authorize(ctx context.Context, userID string, ch model.ChannelRef) (*model.DirectChat, error) {
	switch ch.Kind {
	case model.ChannelRoom:
		if !validID(ch.ID) {
			return nil, ErrRoomNotFound
		}
		m, err := d.store.GetMembership(ctx, ch.ID, userID)
		if err == nil {
			if m.Status != model.MembershipAccepted {
				return nil, ErrNotAMember
			}
			return nil, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, backend("messages.Authorize", err)
		}
		if _, err := d.store.GetRoom(ctx, ch.ID); err != nil {
			return nil, translate("messages.Authorize room", err, ErrRoomNotFound)
		}
		return nil, ErrNotAMember
	case model.ChannelDirect:
		if !validID(ch.ID) {
			return nil, ErrChatNotFound
		}
		chat, err := d.store.GetDirectChat(ctx, ch.ID)
		if err != nil {
			return nil, translate("messages.Authorize direct", err, ErrChatNotFound)
		}
		if !chat.Has(userID) {
			return nil, ErrNotAMember
		}
		return chat, nil
	}
	return nil, ErrInvalidID
}

// FetchPage returns up to PageSize messages older than cursor (newest page when nil) in
// chronological order. HasMore is set when the page is full; the cursor is then the oldest
// message of the page, which the next request excludes.
func (s *MessageService) FetchPage(ctx context.Context, userID string, ch model.ChannelRef, cursor *model.Cursor) (*model.MessagePage, error) {
	if cursor != nil && cursor.BeforeID != "" && !validID(cursor.BeforeID) {
		return nil, ErrInvalidCursor
	}
	if _, err := s.Authorize(ctx, userID, ch); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, ch, cursor, PageSize)
	if err != nil {
		return nil, backend("messages.FetchPage", err)
	}
	page := &model.MessagePage{Messages: make([]model.Message, len(msgs)), HasMore: len(msgs) == PageSize}
	for i, m := range msgs {
		if m.SenderName == "" {
			m.SenderName = UnknownUser
		}
		page.Messages[len(msgs)-1-i] = m
	}
	if page.HasMore {
		oldest := msgs[len(msgs)-1]
		page.NextCursor = &model.Cursor{Before: oldest.CreatedAt, BeforeID: oldest.ID}
	}
	return page, nil
}

// Send stores the message and one new_message notification per other participant in one store
// call, then publishes both.
func (s *MessageService) Send(ctx context.Context, senderID string, ch model.ChannelRef, content string) (*model.Message, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Content:   content,
		Status:    model.MessageStatusSent,
		CreatedAt: s.now(),
	}
	fan := &model.Fanout{Type: model.NotificationNewMessage, SenderID: senderID, Message: preview(content)}
	notFound := ErrRoomNotFound
	switch ch.Kind {
	case model.ChannelRoom:
		if !validID(ch.ID) {
			return nil, ErrRoomNotFound
		}
		id := ch.ID
		m.RoomID = &id
		fan.RoomID = id
	case model.ChannelDirect:
		d, err := s.Authorize(ctx, senderID, ch)
		if err != nil {
			return nil, err
		}
		id := ch.ID
		m.DirectChatID = &id
		fan.Recipients = []string{d.Other(senderID)}
		notFound = ErrChatNotFound
	default:
		return nil, ErrInvalidID
	}

	notes, err := s.store.CreateMessage(ctx, m, fan)
	if err != nil {
		return nil, translate("messages.Send", err, notFound)
	}
	m.SenderName = s.displayName(ctx, senderID)
	title := m.SenderName
	if ch.Kind == model.ChannelRoom {
		if room, err := s.store.GetRoom(ctx, ch.ID); err == nil {
			title = m.SenderName + " in " + room.Name
		}
	}
	s.publish(ctx, ch.Topic(), feed.TableMessages, feed.OpInsert, m.ID, m.CreatedAt, m)
	s.deliver(ctx, notes, title)
	return m, nil
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, content string) (*model.Message, error) {
	content, err := normalizeContent(content)
	if err != nil {
		return nil, err
	}
	if !validID(messageID) {
		return nil, ErrMessageNotFound
	}
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, translate("messages.Edit", err, ErrMessageNotFound)
	}
	if m.SenderID != userID {
		return nil, ErrNotSender
	}
	editedAt := s.now()
	if err := s.store.UpdateMessageContent(ctx, m.ID, userID, content, editedAt); err != nil {
		return nil, translate("messages.Edit update", err, ErrMessageNotFound)
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &editedAt
	if m.SenderName == "" {
		m.SenderName = UnknownUser
	}
	s.publish(ctx, m.Channel().Topic(), feed.TableMessages, feed.OpUpdate, m.ID, editedAt, m)
	return m, nil
}

// MarkRead marks every message from other senders in the channel as read.
func (s *MessageService) MarkRead(ctx context.Context, userID string, ch model.ChannelRef) (int64, error) {
	if _, err := s.Authorize(ctx, userID, ch); err != nil {
		return 0, err
	}
	n, err := s.store.MarkChannelRead(ctx, ch, userID)
	if err != nil {
		return 0, backend("messages.MarkRead", err)
	}
	if n > 0 {
		s.publish(ctx, ch.Topic(), TableMessageReads, feed.OpUpdate, ch.Topic(), s.now(),
			ReadReceipt{Channel: ch, ReaderID: userID, Count: n})
	}
	return n, nil
}

// OpenDirectChat returns the direct chat between userID and otherID, creating it if needed.
func (s *MessageService) OpenDirectChat(ctx context.Context, userID, otherID string) (*model.DirectChat, error) {
	if !validID(otherID) {
		return nil, ErrUserNotFound
	}
	if otherID == userID {
		return nil, ErrSelfChat
	}
	if _, err := s.store.GetUser(ctx, otherID); err != nil {
		return nil, translate("messages.OpenDirectChat", err, ErrUserNotFound)
	}
	d, err := s.store.GetOrCreateDirectChat(ctx, userID, otherID)
	if err != nil {
		return nil, translate("messages.OpenDirectChat create", err, ErrUserNotFound)
	}
	return d, nil
}
