package service

import (
	"context"
	"sort"
	"time"

	"github.com/roomchat/internal/feed"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

type PresenceService struct {
	*deps
	freshness time.Duration
}

func (s *PresenceService) member(ctx context.Context, userID, roomID string) error {
	_, err := s.authorize(ctx, userID, model.RoomChannel(roomID))
	return err
}

// SetTyping records the signal with the server's clock and broadcasts it to the room.
func (s *PresenceService) SetTyping(ctx context.Context, userID, roomID string, isTyping bool) error {
	if err := s.member(ctx, userID, roomID); err != nil {
		return err
	}
	st := model.TypingStatus{RoomID: roomID, UserID: userID, IsTyping: isTyping, UpdatedAt: s.now()}
	if err := s.presence.SetTyping(ctx, st); err != nil {
		return backend("presence.SetTyping", err)
	}
	s.publish(ctx, model.RoomChannel(roomID).Topic(), feed.TableTyping, feed.OpUpdate,
		roomID+":"+userID, st.UpdatedAt, st)
	return nil
}

// ListTyping returns the users currently typing in the room, excluding userID. Signals older
// than the freshness window are dropped.
func (s *PresenceService) ListTyping(ctx context.Context, userID, roomID string) ([]model.TypingStatus, error) {
	if err := s.member(ctx, userID, roomID); err != nil {
		return nil, err
	}
	now := s.now()
	rows, err := s.presence.ListTyping(ctx, roomID, now.Add(-s.freshness))
	if err != nil {
		return nil, backend("presence.ListTyping", err)
	}
	out := make([]model.TypingStatus, 0, len(rows))
	for _, st := range rows {
		if st.UserID == userID || !st.Fresh(now, s.freshness) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ListOnline returns the accepted members of the room that hold a live connection.
func (s *PresenceService) ListOnline(ctx context.Context, userID, roomID string) ([]string, error) {
	if err := s.member(ctx, userID, roomID); err != nil {
		return nil, err
	}
	ids, err := s.store.AcceptedMemberIDs(ctx, roomID)
	if err != nil {
		return nil, backend("presence.ListOnline members", err)
	}
	online, err := s.presence.OnlineUsers(ctx, ids)
	if err != nil {
		return nil, backend("presence.ListOnline", err)
	}
	out := make([]string, 0, len(online))
	for _, id := range ids {
		if online[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Connected and Disconnected track live connections per user.
func (s *PresenceService) Connected(ctx context.Context, userID string) {
	if err := s.presence.SetOnline(ctx, userID, 1); err != nil {
		logger.Errorf("presence online %s: %v", userID, err)
	}
}

func (s *PresenceService) Disconnected(ctx context.Context, userID string) {
	if err := s.presence.SetOnline(ctx, userID, -1); err != nil {
		logger.Errorf("presence offline %s: %v", userID, err)
	}
}

// Refresh keeps an online mark alive without changing the connection count.
func (s *PresenceService) Refresh(ctx context.Context, userID string) {
	if err := s.presence.SetOnline(ctx, userID, 0); err != nil {
		logger.Errorf("presence refresh %s: %v", userID, err)
	}
}
