package domain

import "errors"

// Common domain errors
var (
	// ErrNoActiveSession is returned when an operation requires an active session
	ErrNoActiveSession = errors.New("no active session")

	// ErrInvalidTransition is returned for an illegal session status transition
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrNoMediaEngine is returned when the media engine has not been initialized
	ErrNoMediaEngine = errors.New("media engine not initialized")

	// ErrNoLocalMedia is returned when local tracks have not been started
	ErrNoLocalMedia = errors.New("local media not started")
)
