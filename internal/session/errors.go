package session

import "errors"

var (
	// ErrSessionStopped is returned when operating on a stopped session
	ErrSessionStopped = errors.New("session stopped")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNotStarted is returned when stopping a session that never started
	ErrNotStarted = errors.New("session not started")
	// ErrSessionExists is returned when a stream already has a session
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for unknown stream IDs
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached
	ErrTooManySessions = errors.New("too many active sessions")
)
