package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/roomchat/internal/auth"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const (
	MaxUsername     = 50
	userSearchLimit = 20
)

var ErrInvalidUsername = newKind(ErrValidation, "username must be 1..50 characters")

type UserService struct {
	*deps
	known sync.Map
}

// Ensure creates the profile row of an authenticated session on first sight. Later calls for
// the same user are answered from memory.
func (s *UserService) Ensure(ctx context.Context, sess *auth.Session) error {
	if _, ok := s.known.Load(sess.UserID); ok {
		return nil
	}
	if !validID(sess.UserID) {
		return ErrUnauthorized
	}
	_, err := s.store.GetUser(ctx, sess.UserID)
	switch {
	case err == nil:
		s.known.Store(sess.UserID, struct{}{})
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		// an upsert here would overwrite a profile we merely failed to read
		return backend("users.Ensure", err)
	}
	name := strings.TrimSpace(sess.Username)
	if name == "" {
		name = "user-" + sess.UserID[:8]
	}
	u := &model.User{ID: sess.UserID, Username: name, CreatedAt: s.now()}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return backend("users.Ensure", err)
	}
	s.known.Store(sess.UserID, struct{}{})
	return nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, ErrUserNotFound
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, translate("users.Get", err, ErrUserNotFound)
	}
	return u, nil
}

// UpdateProfile sets the username and avatar of userID.
func (s *UserService) UpdateProfile(ctx context.Context, userID, username, avatarURL string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > MaxUsername {
		return nil, ErrInvalidUsername
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Username = username
	u.AvatarURL = strings.TrimSpace(avatarURL)
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return nil, backend("users.UpdateProfile", err)
	}
	return u, nil
}

func (s *UserService) Search(ctx context.Context, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	users, err := s.store.SearchUsers(ctx, query, userSearchLimit)
	if err != nil {
		return nil, backend("users.Search", err)
	}
	return users, nil
}
