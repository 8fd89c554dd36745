package domain

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrNoActiveCall      = errors.New("no active call")
	ErrCallInProgress    = errors.New("a call is already in progress")
	ErrNotFound          = errors.New("not found")
	ErrEmptyMessage      = errors.New("message content cannot be empty")
	ErrUnknownEvent      = errors.New("unknown signaling event")
	ErrMissingRoom       = errors.New("missing room id")
	ErrNotInRoom         = errors.New("sender is not a member of the room")
	ErrUnauthorized      = errors.New("unauthorized")
)
