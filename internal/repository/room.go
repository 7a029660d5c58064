package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const roomCols = `r.id, r.name, r.is_private, r.created_by, r.created_at`

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRooms(rows pgx.Rows) ([]model.Room, error) {
	defer rows.Close()
	var rooms []model.Room
	for rows.Next() {
		var rm model.Room
		if err := rows.Scan(&rm.ID, &rm.Name, &rm.IsPrivate, &rm.CreatedBy, &rm.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, rm)
	}
	return rooms, rows.Err()
}

// CreateRoom writes the room and its creator's accepted membership in one transaction.
func (r *RoomRepository) CreateRoom(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.CreateRoom", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, name, is_private, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
			room.ID, room.Name, room.IsPrivate, room.CreatedBy, room.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO room_memberships (room_id, user_id, status, created_at, updated_at)
			 VALUES ($1, $2, 'accepted', $3, $3)`,
			room.ID, room.CreatedBy, room.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("roomRepo.CreateRoom: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetRoom", time.Now())()
	rm := &model.Room{}
	err := r.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms r WHERE r.id = $1`, id).
		Scan(&rm.ID, &rm.Name, &rm.IsPrivate, &rm.CreatedBy, &rm.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.GetRoom: %w", err)
	}
	return rm, nil
}

func (r *RoomRepository) UpdateRoom(ctx context.Context, id, name string, isPrivate bool) error {
	defer logger.DeferLogDuration("room.UpdateRoom", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET name = $1, is_private = $2 WHERE id = $3`, name, isPrivate, id,
	)
	if err != nil {
		if notFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("roomRepo.UpdateRoom: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *RoomRepository) ListRooms(ctx context.Context) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListRooms", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+roomCols+` FROM rooms r ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListRooms query: %w", err)
	}
	rooms, err := scanRooms(rows)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListRooms scan: %w", err)
	}
	return rooms, nil
}

func (r *RoomRepository) ListMemberRooms(ctx context.Context, userID string, status model.MembershipStatus, nameQuery string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListMemberRooms", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomCols+`
		 FROM rooms r
		 JOIN room_memberships m ON m.room_id = r.id
		 WHERE m.user_id = $1 AND m.status = $2
		   AND ($3 = '' OR POSITION(LOWER($3) IN LOWER(r.name)) > 0)
		 ORDER BY r.name, r.id`,
		userID, string(status), nameQuery,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListMemberRooms query: %w", err)
	}
	rooms, err := scanRooms(rows)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListMemberRooms scan: %w", err)
	}
	return rooms, nil
}

// SearchPublicRooms returns one page of public rooms whose name contains query, plus the total
// number of matches.
func (r *RoomRepository) SearchPublicRooms(ctx context.Context, query string, limit, offset int) ([]model.Room, int, error) {
	defer logger.DeferLogDuration("room.SearchPublicRooms", time.Now())()
	const where = `FROM rooms r WHERE NOT r.is_private AND POSITION(LOWER($1) IN LOWER(r.name)) > 0`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+where, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("roomRepo.SearchPublicRooms count: %w", err)
	}
	if total == 0 || offset >= total {
		return []model.Room{}, total, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomCols+` `+where+` ORDER BY r.name, r.id LIMIT $2 OFFSET $3`,
		query, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("roomRepo.SearchPublicRooms query: %w", err)
	}
	rooms, err := scanRooms(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("roomRepo.SearchPublicRooms scan: %w", err)
	}
	return rooms, total, nil
}

func (r *RoomRepository) CountMembers(ctx context.Context, roomIDs []string) (map[string]int, error) {
	defer logger.DeferLogDuration("room.CountMembers", time.Now())()
	counts := make(map[string]int, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, COUNT(*) FROM room_memberships
		 WHERE status = 'accepted' AND room_id = ANY($1::uuid[])
		 GROUP BY room_id`,
		roomIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.CountMembers query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("roomRepo.CountMembers scan: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.CountMembers rows: %w", err)
	}
	return counts, nil
}
