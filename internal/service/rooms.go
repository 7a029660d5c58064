package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const (
	MaxRoomName    = 100
	MaxSearchLimit = 50
)

// TopicRooms carries directory changes (room created or renamed).
const TopicRooms = "rooms"

type RoomService struct {
	*deps
}

func normalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoomName {
		return "", ErrInvalidName
	}
	return name, nil
}

// CreateRoom creates a room whose creator is its first accepted member.
func (s *RoomService) CreateRoom(ctx context.Context, userID, name string, isPrivate bool) (*model.RoomView, error) {
	name, err := normalizeRoomName(name)
	if err != nil {
		return nil, err
	}
	room := &model.Room{
		ID:        uuid.NewString(),
		Name:      name,
		IsPrivate: isPrivate,
		CreatedBy: userID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, translate("rooms.Create", err, ErrUserNotFound)
	}
	logger.Infof("room created: %s by %s", room.ID, userID)
	s.publish(ctx, TopicRooms, feed.TableRooms, feed.OpInsert, room.ID, room.CreatedAt, room)
	return &model.RoomView{
		Room:                *room,
		IsMember:            true,
		ParticipationStatus: model.MembershipAccepted,
		MemberCount:         1,
	}, nil
}

// UpdateRoom changes name and/or privacy. Only the creator may do it.
func (s *RoomService) UpdateRoom(ctx context.Context, userID, roomID string, name *string, isPrivate *bool) (*model.RoomView, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CreatedBy != userID {
		return nil, ErrNotCreator
	}
	if name != nil {
		if room.Name, err = normalizeRoomName(*name); err != nil {
			return nil, err
		}
	}
	if isPrivate != nil {
		room.IsPrivate = *isPrivate
	}
	if err := s.store.UpdateRoom(ctx, room.ID, room.Name, room.IsPrivate); err != nil {
		return nil, translate("rooms.Update", err, ErrRoomNotFound)
	}
	s.publish(ctx, TopicRooms, feed.TableRooms, feed.OpUpdate, room.ID, s.now(), room)
	return s.GetRoom(ctx, userID, roomID)
}

func (s *RoomService) room(ctx context.Context, roomID string) (*model.Room, error) {
	if !validID(roomID) {
		return nil, ErrRoomNotFound
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, translate("rooms.Get", err, ErrRoomNotFound)
	}
	return room, nil
}

func (s *RoomService) GetRoom(ctx context.Context, userID, roomID string) (*model.RoomView, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	status := model.MembershipNone
	m, err := s.store.GetMembership(ctx, roomID, userID)
	switch {
	case err == nil:
		status = m.Status
	case !errors.Is(err, storage.ErrNotFound):
		return nil, backend("rooms.Get membership", err)
	}
	views, err := s.annotate(ctx, []model.Room{*room}, map[string]model.MembershipStatus{roomID: status})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListAll returns every room annotated with the viewer's participation.
func (s *RoomService) ListAll(ctx context.Context, userID string) ([]model.RoomView, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, backend("rooms.ListAll", err)
	}
	statuses, err := s.store.UserMemberships(ctx, userID)
	if err != nil {
		return nil, backend("rooms.ListAll memberships", err)
	}
	return s.annotate(ctx, rooms, statuses)
}

// ListJoined returns the rooms where userID is an accepted member, optionally filtered by a
// case-insensitive substring of the name.
func (s *RoomService) ListJoined(ctx context.Context, userID, query string) ([]model.RoomView, error) {
	rooms, err := s.store.ListMemberRooms(ctx, userID, model.MembershipAccepted, strings.TrimSpace(query))
	if err != nil {
		return nil, backend("rooms.ListJoined", err)
	}
	statuses := make(map[string]model.MembershipStatus, len(rooms))
	for _, r := range rooms {
		statuses[r.ID] = model.MembershipAccepted
	}
	return s.annotate(ctx, rooms, statuses)
}

// Search pages through public rooms whose name contains query. The viewer's participation is
// attached when userID is set.
func (s *RoomService) Search(ctx context.Context, userID, query string, limit, offset int) (*model.RoomPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	if limit < 1 || limit > MaxSearchLimit || offset < 0 {
		return nil, ErrInvalidRange
	}
	rooms, total, err := s.store.SearchPublicRooms(ctx, query, limit, offset)
	if err != nil {
		return nil, backend("rooms.Search", err)
	}
	statuses := map[string]model.MembershipStatus{}
	if userID != "" {
		if statuses, err = s.store.UserMemberships(ctx, userID); err != nil {
			return nil, backend("rooms.Search memberships", err)
		}
	}
	views, err := s.annotate(ctx, rooms, statuses)
	if err != nil {
		return nil, err
	}
	return &model.RoomPage{Rooms: views, Total: total}, nil
}

// annotate attaches participation and member counts using one grouped count for the whole set.
func (s *RoomService) annotate(ctx context.Context, rooms []model.Room, statuses map[string]model.MembershipStatus) ([]model.RoomView, error) {
	views := make([]model.RoomView, 0, len(rooms))
	if len(rooms) == 0 {
		return views, nil
	}
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	counts, err := s.store.CountMembers(ctx, ids)
	if err != nil {
		return nil, backend("rooms.CountMembers", err)
	}
	for _, r := range rooms {
		st, ok := statuses[r.ID]
		if !ok {
			st = model.MembershipNone
		}
		views = append(views, model.RoomView{
			Room:                r,
			IsMember:            st == model.MembershipAccepted,
			ParticipationStatus: st,
			MemberCount:         counts[r.ID],
		})
	}
	return views, nil
}
