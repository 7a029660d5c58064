package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const userCols = `id, username, avatar_url, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt)
}

func (r *UserRepository) UpsertUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.UpsertUser", time.Now())()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url
		 RETURNING `+userCols,
		u.ID, u.Username, u.AvatarURL, u.CreatedAt,
	)
	if err := scanUser(row, u); err != nil {
		return fmt.Errorf("userRepo.UpsertUser: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetUser", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetUser: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.SearchUsers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE POSITION(LOWER($1) IN LOWER(username)) > 0
		 ORDER BY username LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.SearchUsers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.SearchUsers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.SearchUsers rows: %w", err)
	}
	return users, nil
}
