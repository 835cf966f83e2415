package signaling

import "errors"

var (
	// ErrStaleMessage marks an inbox record older than the staleness window.
	ErrStaleMessage = errors.New("stale message")
	// ErrDuplicate marks an inbox record whose id was already handled.
	ErrDuplicate = errors.New("duplicate message")
	// ErrSessionMismatch marks a signal that belongs to no session this
	// endpoint can bind.
	ErrSessionMismatch = errors.New("session mismatch")
)
