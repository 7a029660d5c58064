package service

import (
	"context"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/model"
)

const (
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 200
)

// NotificationService reads and updates a user's own notifications. Every mutation is a single
// store statement scoped by notification id and owner, so another user's row is ErrNotFound.
type NotificationService struct {
	*deps
}

type NotificationList struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) (*NotificationList, error) {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	if limit > MaxNotificationLimit {
		limit = MaxNotificationLimit
	}
	items, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, backend("notifications.List", err)
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, backend("notifications.List count", err)
	}
	return &NotificationList{Items: items, Unread: unread}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, backend("notifications.UnreadCount", err)
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	return s.setStatus(ctx, id, userID, model.NotificationRead)
}

func (s *NotificationService) MarkUnread(ctx context.Context, id, userID string) error {
	return s.setStatus(ctx, id, userID, model.NotificationUnread)
}

func (s *NotificationService) setStatus(ctx context.Context, id, userID string, status model.NotificationStatus) error {
	if !validID(id) {
		return ErrNotificationNotFound
	}
	if err := s.store.SetNotificationStatus(ctx, id, userID, status); err != nil {
		return translate("notifications.SetStatus", err, ErrNotificationNotFound)
	}
	s.publish(ctx, feed.UserTopic(userID), feed.TableNotifications, feed.OpUpdate, id, s.now(),
		map[string]string{"id": id, "status": string(status)})
	return nil
}

func (s *NotificationService) DeleteOne(ctx context.Context, id, userID string) error {
	if !validID(id) {
		return ErrNotificationNotFound
	}
	if err := s.store.DeleteNotification(ctx, id, userID); err != nil {
		return translate("notifications.Delete", err, ErrNotificationNotFound)
	}
	s.publish(ctx, feed.UserTopic(userID), feed.TableNotifications, feed.OpDelete, id, s.now(), nil)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, backend("notifications.MarkAllRead", err)
	}
	if n > 0 {
		s.publish(ctx, feed.UserTopic(userID), feed.TableNotifications, feed.OpUpdate, feed.KeyAll, s.now(),
			map[string]string{"status": string(model.NotificationRead)})
	}
	return n, nil
}

func (s *NotificationService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteAllNotifications(ctx, userID)
	if err != nil {
		return 0, backend("notifications.DeleteAll", err)
	}
	if n > 0 {
		s.publish(ctx, feed.UserTopic(userID), feed.TableNotifications, feed.OpDelete, feed.KeyAll, s.now(), nil)
	}
	return n, nil
}
