package service

import (
	"errors"
	"fmt"

	"github.com/roomchat/internal/storage"
)

// Error kinds. Every error returned by this package wraps exactly one of them; callers branch
// with errors.Is on the kind.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrBackend      = errors.New("backend failure")
)

// kindError is a specific error that also matches its kind under errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error { return &kindError{msg: msg, kind: kind} }

var (
	ErrAlreadyMember        = newKind(ErrConflict, "already a member or request pending")
	ErrRoomNotFound         = newKind(ErrNotFound, "room not found")
	ErrUserNotFound         = newKind(ErrNotFound, "user not found")
	ErrMessageNotFound      = newKind(ErrNotFound, "message not found")
	ErrChatNotFound         = newKind(ErrNotFound, "chat not found")
	ErrRequestNotFound      = newKind(ErrNotFound, "join request not found")
	ErrNotificationNotFound = newKind(ErrNotFound, "notification not found")
	ErrNotAMember           = newKind(ErrForbidden, "not a member of this chat")
	ErrNotCreator           = newKind(ErrForbidden, "only the room creator can do this")
	ErrNotSender            = newKind(ErrForbidden, "only the sender can edit a message")
	ErrInvalidQuery         = newKind(ErrValidation, "search query is empty")
	ErrInvalidRange         = newKind(ErrValidation, "limit must be in [1,50] and offset >= 0")
	ErrInvalidName          = newKind(ErrValidation, "room name must be 1..100 characters")
	ErrInvalidContent       = newKind(ErrValidation, "message must be 1..4000 characters")
	ErrInvalidID            = newKind(ErrValidation, "invalid id")
	ErrInvalidCursor        = newKind(ErrValidation, "before_id must be a message id")
	ErrSelfChat             = newKind(ErrValidation, "cannot open a direct chat with yourself")
)

// backend wraps an unexpected store error. Store sentinels are translated by callers before
// reaching here.
func backend(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackend, err)
}

// translate maps store sentinels onto the given specific errors; anything else is a backend error.
func translate(op string, err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, storage.ErrNotAMember):
		return ErrNotAMember
	case errors.Is(err, storage.ErrConflict):
		return ErrAlreadyMember
	}
	return backend(op, err)
}
