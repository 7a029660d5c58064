package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// MembershipService moves users through none -> pending -> accepted -> none. Each transition
// and the notifications it causes are written by a single store call.
type MembershipService struct {
	*deps
}

func (s *MembershipService) room(ctx context.Context, roomID string) (*model.Room, error) {
	if !validID(roomID) {
		return nil, ErrRoomNotFound
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, translate("membership.room", err, ErrRoomNotFound)
	}
	return room, nil
}

func (s *MembershipService) creatorRoom(ctx context.Context, actingUserID, roomID string) (*model.Room, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.CreatedBy != actingUserID {
		return nil, ErrNotCreator
	}
	return room, nil
}

// RequestJoin makes userID an accepted member of a public room, or a pending one of a private
// room. Any existing record for the pair is ErrAlreadyMember.
func (s *MembershipService) RequestJoin(ctx context.Context, userID, roomID string) (model.MembershipStatus, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return "", err
	}
	name := s.displayName(ctx, userID)
	m := &model.Membership{RoomID: roomID, UserID: userID, CreatedAt: s.now()}
	var fan *model.Fanout
	if room.IsPrivate {
		m.Status = model.MembershipPending
		fan = &model.Fanout{
			Type:       model.NotificationJoinRequest,
			SenderID:   userID,
			RoomID:     roomID,
			Message:    fmt.Sprintf("%s asked to join %s", name, room.Name),
			Recipients: []string{room.CreatedBy},
		}
	} else {
		m.Status = model.MembershipAccepted
		fan = &model.Fanout{
			Type:     model.NotificationMemberJoined,
			SenderID: userID,
			RoomID:   roomID,
			Message:  fmt.Sprintf("%s joined %s", name, room.Name),
		}
	}
	m.UpdatedAt = m.CreatedAt

	notes, err := s.store.InsertMembership(ctx, m, fan)
	if err != nil {
		return "", translate("membership.RequestJoin", err, ErrRoomNotFound)
	}
	logger.Infof("membership: %s -> %s in %s", userID, m.Status, roomID)
	s.publishMembership(ctx, feed.OpInsert, m)
	s.deliver(ctx, notes, room.Name)
	return m.Status, nil
}

// AcceptJoin lets the creator move a pending request to accepted.
func (s *MembershipService) AcceptJoin(ctx context.Context, actingUserID, roomID, requesterID string) error {
	room, err := s.creatorRoom(ctx, actingUserID, roomID)
	if err != nil {
		return err
	}
	fan := &model.Fanout{
		Type:       model.NotificationJoinAccepted,
		SenderID:   actingUserID,
		RoomID:     roomID,
		Message:    fmt.Sprintf("Your request to join %s was accepted", room.Name),
		Recipients: []string{requesterID},
	}
	notes, err := s.store.TransitionMembership(ctx, roomID, requesterID, model.MembershipPending, model.MembershipAccepted, fan)
	if err != nil {
		return translate("membership.AcceptJoin", err, ErrRequestNotFound)
	}
	now := s.now()
	s.publishMembership(ctx, feed.OpUpdate, &model.Membership{
		RoomID: roomID, UserID: requesterID, Status: model.MembershipAccepted, UpdatedAt: now,
	})
	s.deliver(ctx, notes, room.Name)
	return nil
}

// RejectJoin lets the creator drop a pending request.
func (s *MembershipService) RejectJoin(ctx context.Context, actingUserID, roomID, requesterID string) error {
	room, err := s.creatorRoom(ctx, actingUserID, roomID)
	if err != nil {
		return err
	}
	fan := &model.Fanout{
		Type:       model.NotificationJoinRejected,
		SenderID:   actingUserID,
		RoomID:     roomID,
		Message:    fmt.Sprintf("Your request to join %s was declined", room.Name),
		Recipients: []string{requesterID},
	}
	deleted, notes, err := s.store.DeleteMembership(ctx, roomID, requesterID,
		[]model.MembershipStatus{model.MembershipPending}, fan)
	if err != nil {
		return backend("membership.RejectJoin", err)
	}
	if !deleted {
		return ErrRequestNotFound
	}
	s.publishMembership(ctx, feed.OpDelete, &model.Membership{RoomID: roomID, UserID: requesterID, UpdatedAt: s.now()})
	s.deliver(ctx, notes, room.Name)
	return nil
}

// Leave removes userID's record for the room. Leaving twice, or leaving a room never joined,
// is a no-op. The creator may leave; the room remains.
func (s *MembershipService) Leave(ctx context.Context, userID, roomID string) error {
	if !validID(roomID) {
		return nil
	}
	deleted, _, err := s.store.DeleteMembership(ctx, roomID, userID, nil, nil)
	if err != nil {
		return backend("membership.Leave", err)
	}
	if deleted {
		s.publishMembership(ctx, feed.OpDelete, &model.Membership{RoomID: roomID, UserID: userID, UpdatedAt: s.now()})
	}
	return nil
}

// Status returns pending, accepted or none.
func (s *MembershipService) Status(ctx context.Context, userID, roomID string) (model.MembershipStatus, error) {
	if !validID(roomID) {
		return model.MembershipNone, nil
	}
	m, err := s.store.GetMembership(ctx, roomID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.MembershipNone, nil
	}
	if err != nil {
		return "", backend("membership.Status", err)
	}
	return m.Status, nil
}

// ListPending returns the open join requests of a room. Creator only.
func (s *MembershipService) ListPending(ctx context.Context, actingUserID, roomID string) ([]model.Membership, error) {
	if _, err := s.creatorRoom(ctx, actingUserID, roomID); err != nil {
		return nil, err
	}
	list, err := s.store.ListMemberships(ctx, roomID, model.MembershipPending)
	if err != nil {
		return nil, backend("membership.ListPending", err)
	}
	return list, nil
}

// publishMembership announces the change on the room topic and on the affected user's topic,
// since a pending or removed user is not subscribed to the room.
func (s *MembershipService) publishMembership(ctx context.Context, op feed.Op, m *model.Membership) {
	key := m.RoomID + ":" + m.UserID
	at := m.UpdatedAt
	s.publish(ctx, model.RoomChannel(m.RoomID).Topic(), feed.TableMemberships, op, key, at, m)
	s.publish(ctx, feed.UserTopic(m.UserID), feed.TableMemberships, op, key, at, m)
}
