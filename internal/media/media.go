// Package media supplies the local tracks a session sends.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrMediaUnavailable is returned when no local track can be acquired
// (no device, permission denied, or nothing requested).
var ErrMediaUnavailable = errors.New("media unavailable")

// Constraints select the local media to acquire.
type Constraints struct {
	Audio      bool
	Video      bool
	FacingMode string // "user" or "environment"; informational for synthetic video
}

// Provider acquires local media.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// Stream is a set of local tracks sharing one stream id. Stop releases them.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal

	stop     func()
	stopOnce sync.Once
}

// NewStream wraps tracks. stop, if non-nil, runs once on Stop.
func NewStream(id string, tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{id: id, tracks: tracks, stop: stop}
}

// ID returns the stream id shared by all tracks.
func (s *Stream) ID() string { return s.id }

// Tracks returns the local tracks.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Stop releases the tracks. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Unavailable is a Provider for endpoints without capture devices.
type Unavailable struct{}

// Acquire always fails with ErrMediaUnavailable.
func (Unavailable) Acquire(context.Context, Constraints) (*Stream, error) {
	return nil, ErrMediaUnavailable
}
