package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

type MembershipRepository struct {
	pool *pgxpool.Pool
}

func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

func acceptedMemberIDs(ctx context.Context, q querier, roomID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id FROM room_memberships WHERE room_id = $1 AND status = 'accepted' ORDER BY created_at`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MembershipRepository) GetMembership(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	m := &model.Membership{}
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT room_id, user_id, status, created_at, updated_at
		 FROM room_memberships WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&m.RoomID, &m.UserID, &status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("membershipRepo.Get: %w", err)
	}
	m.Status = model.MembershipStatus(status)
	return m, nil
}

func (r *MembershipRepository) UserMemberships(ctx context.Context, userID string) (map[string]model.MembershipStatus, error) {
	defer logger.DeferLogDuration("membership.UserMemberships", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, status FROM room_memberships WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.UserMemberships query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]model.MembershipStatus)
	for rows.Next() {
		var roomID, status string
		if err := rows.Scan(&roomID, &status); err != nil {
			return nil, fmt.Errorf("membershipRepo.UserMemberships scan: %w", err)
		}
		out[roomID] = model.MembershipStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("membershipRepo.UserMemberships rows: %w", err)
	}
	return out, nil
}

func (r *MembershipRepository) AcceptedMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	ids, err := acceptedMemberIDs(ctx, r.pool, roomID)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.AcceptedMemberIDs: %w", err)
	}
	return ids, nil
}

func (r *MembershipRepository) ListMemberships(ctx context.Context, roomID string, status model.MembershipStatus) ([]model.Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, user_id, status, created_at, updated_at
		 FROM room_memberships WHERE room_id = $1 AND status = $2 ORDER BY created_at`,
		roomID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.List query: %w", err)
	}
	defer rows.Close()
	list := make([]model.Membership, 0)
	for rows.Next() {
		var m model.Membership
		var st string
		if err := rows.Scan(&m.RoomID, &m.UserID, &st, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("membershipRepo.List scan: %w", err)
		}
		m.Status = model.MembershipStatus(st)
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("membershipRepo.List rows: %w", err)
	}
	return list, nil
}

// InsertMembership creates the pair's only record. A concurrent or earlier insert for the same
// pair leaves zero affected rows and yields storage.ErrConflict.
func (r *MembershipRepository) InsertMembership(ctx context.Context, m *model.Membership, fan *model.Fanout) ([]model.Notification, error) {
	defer logger.DeferLogDuration("membership.Insert", time.Now())()
	var notes []model.Notification
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, m.RoomID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO room_memberships (room_id, user_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4) ON CONFLICT (room_id, user_id) DO NOTHING`,
			m.RoomID, m.UserID, string(m.Status), m.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrConflict
		}
		notes, err = insertFanout(ctx, tx, fan, m.CreatedAt)
		return err
	})
	if err != nil {
		return nil, wrapTx("membershipRepo.Insert", err)
	}
	return notes, nil
}

func (r *MembershipRepository) TransitionMembership(ctx context.Context, roomID, userID string, from, to model.MembershipStatus, fan *model.Fanout) ([]model.Notification, error) {
	defer logger.DeferLogDuration("membership.Transition", time.Now())()
	var notes []model.Notification
	now := time.Now().UTC()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE room_memberships SET status = $1, updated_at = $2
			 WHERE room_id = $3 AND user_id = $4 AND status = $5`,
			string(to), now, roomID, userID, string(from),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		notes, err = insertFanout(ctx, tx, fan, now)
		return err
	})
	if err != nil {
		return nil, wrapTx("membershipRepo.Transition", err)
	}
	return notes, nil
}

func (r *MembershipRepository) DeleteMembership(ctx context.Context, roomID, userID string, statuses []model.MembershipStatus, fan *model.Fanout) (bool, []model.Notification, error) {
	defer logger.DeferLogDuration("membership.Delete", time.Now())()
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}
	var (
		deleted bool
		notes   []model.Notification
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM room_memberships
			 WHERE room_id = $1 AND user_id = $2 AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))`,
			roomID, userID, filter,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		deleted = true
		notes, err = insertFanout(ctx, tx, fan, time.Now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || notFound(err) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("membershipRepo.Delete: %w", err)
	}
	return deleted, notes, nil
}

// wrapTx passes storage sentinels through and wraps everything else with op.
func wrapTx(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotAMember):
		return err
	case notFound(err):
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
