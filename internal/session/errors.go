package session

import "errors"

// Session management errors; not-found is interfaces.ErrSessionNotFound
var (
	ErrInvalidSessionName  = errors.New("session name must be 1-200 characters")
	ErrInvalidTeacherID    = errors.New("teacher id must be a valid identifier")
	ErrInvalidJoinCode     = errors.New("join code is required")
	ErrSessionAlreadyEnded = errors.New("session is already ended")
	ErrCodeExhausted       = errors.New("could not allocate a unique join code")
)
