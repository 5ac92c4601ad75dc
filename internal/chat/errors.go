package chat

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound covers unknown room, message and user references.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is a participant-only action attempted by a non-participant
	// or a non-author trying to edit/delete someone else's message.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidReference is a reply or read cursor pointing outside the room.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrInvalidState covers editing a tombstone, moving a read cursor
	// backwards, and removing a participant from a direct room.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict is the storage-level uniqueness violation raised during a
	// direct-room creation race. The resolver absorbs it; it never reaches
	// an API caller.
	ErrConflict = errors.New("conflict")
	// ErrBadRequest is a malformed argument (empty content, bad type, ...).
	ErrBadRequest = errors.New("bad request")
)

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidReference), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
