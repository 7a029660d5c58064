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

const messageCols = `m.id, m.room_id, m.direct_chat_id, m.sender_id, COALESCE(u.username, ''), m.content,
	m.status, m.is_edited, m.created_at, m.edited_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	var status string
	if err := s.Scan(&m.ID, &m.RoomID, &m.DirectChatID, &m.SenderID, &m.SenderName, &m.Content,
		&status, &m.IsEdited, &m.CreatedAt, &m.EditedAt); err != nil {
		return err
	}
	m.Status = model.MessageStatus(status)
	return nil
}

// channelColumn is the messages column addressing ch. Only the two fixed names are returned.
func channelColumn(ch model.ChannelRef) string {
	if ch.Kind == model.ChannelDirect {
		return "direct_chat_id"
	}
	return "room_id"
}

// CreateMessage verifies the sender may post, inserts the message and its notifications in one
// transaction. The membership row is locked FOR SHARE so a concurrent leave cannot interleave.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message, fan *model.Fanout) ([]model.Notification, error) {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	ch := m.Channel()
	var notes []model.Notification
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		switch ch.Kind {
		case model.ChannelRoom:
			var status string
			err := tx.QueryRow(ctx,
				`SELECT status FROM room_memberships WHERE room_id = $1 AND user_id = $2 FOR SHARE`,
				ch.ID, m.SenderID,
			).Scan(&status)
			if notFound(err) {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, ch.ID).Scan(&exists); err != nil {
					return err
				}
				if !exists {
					return storage.ErrNotFound
				}
				return storage.ErrNotAMember
			}
			if err != nil {
				return err
			}
			if status != string(model.MembershipAccepted) {
				return storage.ErrNotAMember
			}
		case model.ChannelDirect:
			var a, b string
			err := tx.QueryRow(ctx, `SELECT user_a, user_b FROM direct_chats WHERE id = $1`, ch.ID).Scan(&a, &b)
			if notFound(err) {
				return storage.ErrNotFound
			}
			if err != nil {
				return err
			}
			if m.SenderID != a && m.SenderID != b {
				return storage.ErrNotAMember
			}
		default:
			return fmt.Errorf("message without channel")
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, room_id, direct_chat_id, sender_id, content, status, is_edited, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
			m.ID, m.RoomID, m.DirectChatID, m.SenderID, m.Content, string(m.Status), m.CreatedAt,
		); err != nil {
			return err
		}
		var err error
		notes, err = insertFanout(ctx, tx, fan, m.CreatedAt)
		return err
	})
	if err != nil {
		return nil, wrapTx("msgRepo.Create", err)
	}
	return notes, nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id,
	)
	if err := scanMessage(row, m); err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.Get: %w", err)
	}
	return m, nil
}

// ListMessages returns messages of ch ordered by (created_at, id) descending, strictly past cursor.
func (r *MessageRepository) ListMessages(ctx context.Context, ch model.ChannelRef, cursor *model.Cursor, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	col := channelColumn(ch)
	var (
		rows pgx.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id
			 WHERE m.`+col+` = $1
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $2`,
			ch.ID, limit,
		)
	} else {
		beforeID := cursor.BeforeID
		if beforeID == "" {
			// Without an id tie-breaker every message at exactly Before is excluded.
			beforeID = uuid.Nil.String()
		}
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages m LEFT JOIN users u ON u.id = m.sender_id
			 WHERE m.`+col+` = $1 AND (m.created_at, m.id) < ($2, $3::uuid)
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $4`,
			ch.ID, cursor.Before, beforeID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.List query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.List scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.List rows: %w", err)
	}
	return msgs, nil
}

func (r *MessageRepository) UpdateMessageContent(ctx context.Context, id, senderID, content string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, is_edited = true, edited_at = $2 WHERE id = $3 AND sender_id = $4`,
		content, editedAt, id, senderID,
	)
	if err != nil {
		if notFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) MarkChannelRead(ctx context.Context, ch model.ChannelRef, readerID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkChannelRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = 'read'
		 WHERE `+channelColumn(ch)+` = $1 AND sender_id <> $2 AND status <> 'read'`,
		ch.ID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkChannelRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetOrCreateDirectChat returns the chat of the unordered pair, creating it on first use.
func (r *MessageRepository) GetOrCreateDirectChat(ctx context.Context, userA, userB string) (*model.DirectChat, error) {
	defer logger.DeferLogDuration("msg.GetOrCreateDirectChat", time.Now())()
	a, b := model.OrderPair(userA, userB)
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO direct_chats (id, user_a, user_b, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		uuid.NewString(), a, b, time.Now().UTC(),
	); err != nil {
		return nil, wrapTx("msgRepo.GetOrCreateDirectChat insert", err)
	}
	d := &model.DirectChat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_a, user_b, created_at FROM direct_chats WHERE user_a = $1 AND user_b = $2`, a, b,
	).Scan(&d.ID, &d.UserA, &d.UserB, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetOrCreateDirectChat select: %w", err)
	}
	return d, nil
}

func (r *MessageRepository) GetDirectChat(ctx context.Context, id string) (*model.DirectChat, error) {
	d := &model.DirectChat{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_a, user_b, created_at FROM direct_chats WHERE id = $1`, id,
	).Scan(&d.ID, &d.UserA, &d.UserB, &d.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetDirectChat: %w", err)
	}
	return d, nil
}
