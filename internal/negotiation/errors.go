package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed negotiator.
	ErrClosed = errors.New("negotiator closed")
	// ErrMediaAlreadyAttached is returned when local tracks are attached to
	// a session a second time.
	ErrMediaAlreadyAttached = errors.New("local media already attached")
)

// ApplyError reports a remote description or candidate that the peer
// connection rejected.
type ApplyError struct {
	Op  string // "set remote description", "add candidate", ...
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("signaling apply failed: %s: %v", e.Op, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
