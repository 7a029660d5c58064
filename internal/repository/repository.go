package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/storage"
)

// Postgres implements storage.Store on top of one connection pool.
type Postgres struct {
	*UserRepository
	*RoomRepository
	*MembershipRepository
	*MessageRepository
	*NotificationRepository
}

var _ storage.Store = (*Postgres)(nil)

func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		UserRepository:         NewUserRepository(pool),
		RoomRepository:         NewRoomRepository(pool),
		MembershipRepository:   NewMembershipRepository(pool),
		MessageRepository:      NewMessageRepository(pool),
		NotificationRepository: NewNotificationRepository(pool),
	}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFound reports errors that mean a referenced row does not exist: no rows, a malformed uuid
// (22P02) or a dangling foreign key (23503).
func notFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" || pgErr.Code == "23503"
	}
	return false
}
