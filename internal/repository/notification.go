package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// insertFanout writes the notifications of fan inside tx. Recipients default to the accepted
// members of fan.RoomID as seen by the transaction.
func insertFanout(ctx context.Context, tx pgx.Tx, fan *model.Fanout, now time.Time) ([]model.Notification, error) {
	if fan == nil {
		return nil, nil
	}
	recipients := fan.Recipients
	if len(recipients) == 0 && fan.RoomID != "" {
		ids, err := acceptedMemberIDs(ctx, tx, fan.RoomID)
		if err != nil {
			return nil, err
		}
		recipients = ids
	}
	notes := fan.Build(recipients, uuid.NewString, now)
	if len(notes) == 0 {
		return notes, nil
	}
	batch := &pgx.Batch{}
	for _, n := range notes {
		batch.Queue(
			`INSERT INTO notifications (id, user_id, sender_id, room_id, type, message, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, n.UserID, n.SenderID, n.RoomID, string(n.Type), n.Message, string(n.Status), n.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	return notes, nil
}

const notificationCols = `id, user_id, sender_id, room_id, type, message, status, created_at`

func (r *NotificationRepository) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notification.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR status = 'unread')
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		userID, unreadOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.List query: %w", err)
	}
	defer rows.Close()

	notes := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		var typ, status string
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &n.RoomID, &typ, &n.Message, &status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notificationRepo.List scan: %w", err)
		}
		n.Type = model.NotificationType(typ)
		n.Status = model.NotificationStatus(status)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notificationRepo.List rows: %w", err)
	}
	return notes, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND status = 'unread'`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notificationRepo.CountUnread: %w", err)
	}
	return n, nil
}

// SetNotificationStatus is a single statement scoped by id and owner.
func (r *NotificationRepository) SetNotificationStatus(ctx context.Context, id, userID string, status model.NotificationStatus) error {
	defer logger.DeferLogDuration("notification.SetStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $1 WHERE id = $2 AND user_id = $3`,
		string(status), id, userID,
	)
	if err != nil {
		if notFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("notificationRepo.SetStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	defer logger.DeferLogDuration("notification.MarkAllRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = 'read' WHERE user_id = $1 AND status = 'unread'`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("notificationRepo.MarkAllRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) DeleteNotification(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notification.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if notFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("notificationRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	defer logger.DeferLogDuration("notification.DeleteAll", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("notificationRepo.DeleteAll: %w", err)
	}
	return tag.RowsAffected(), nil
}
