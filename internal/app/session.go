package app

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/liveness"
	"github.com/1ureka/videoboard/internal/media"
	"github.com/1ureka/videoboard/internal/negotiation"
	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/signaling"
	"github.com/1ureka/videoboard/internal/transport"
	"github.com/1ureka/videoboard/internal/util"
)

// session is one call attempt with one remote endpoint. Every resource it
// holds is released by close, which runs once, from the supervisor.
type session struct {
	nonce  string
	remote string
	role   negotiation.Role
	tag    uint32

	transport *transport.Transport
	channel   *signaling.RelayChannel
	neg       *negotiation.Negotiator
	sup       *liveness.Supervisor

	mu     sync.Mutex
	stream *media.Stream
	closed bool
}

// openSession builds the session for nonce with remote. initial, when set,
// is the signal that made the remote side the opener.
func (e *Endpoint) openSession(remote, nonce string, initial protocol.Message) (*session, error) {
	t, err := transport.New(e.ctx, transport.Options{ICEServers: e.opts.ICEServers})
	if err != nil {
		return nil, err
	}

	s := &session{
		nonce:     nonce,
		remote:    remote,
		role:      negotiation.RoleFor(e.opts.ID, remote),
		tag:       util.SessionTag(nonce),
		transport: t,
		channel:   signaling.NewRelayChannel(e.opts.Relay, e.opts.ID, remote, nonce),
	}
	s.sup = liveness.New(e.opts.Timeout, nonce, func(reason string) {
		e.teardown(s, reason)
	})

	s.neg = negotiation.New(t, s.channel, negotiation.Config{
		Role:    s.role,
		Nonce:   nonce,
		Initial: initial,
		Hooks: negotiation.Hooks{
			OnStateChange: func(state negotiation.State) {
				if state == negotiation.Negotiating {
					s.sup.Touch()
				}
				if e.opts.Hooks.OnState != nil {
					e.opts.Hooks.OnState(remote, state)
				}
			},
			OnICEState: func(state webrtc.ICEConnectionState) {
				switch state {
				case webrtc.ICEConnectionStateDisconnected,
					webrtc.ICEConnectionStateFailed,
					webrtc.ICEConnectionStateClosed:
					go s.sup.Expire("ice " + state.String())
				}
			},
			OnRemoteStream: func(streamID string) {
				if e.opts.Hooks.OnRemoteStream != nil {
					e.opts.Hooks.OnRemoteStream(remote, streamID)
				}
			},
		},
	})

	ka := t.Keepalive()
	ka.OnMessage(s.sup.Heartbeat)
	ka.OnClose(func() { go s.sup.Expire("keepalive closed") })
	s.sup.StartPinging(ka)
	s.sup.Arm()

	util.Stats.AddSessionOpened()
	util.LogDebug("[%08x] session with %s opened as %s", s.tag, remote, s.role)
	return s, nil
}

// attachMedia acquires local media and adds it to the session. The stream
// is released if the session closes meanwhile or the tracks are rejected.
func (s *session) attachMedia(ctx context.Context, p media.Provider, c media.Constraints) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return negotiation.ErrClosed
	}
	if s.stream != nil {
		s.mu.Unlock()
		return negotiation.ErrMediaAlreadyAttached
	}
	s.mu.Unlock()

	stream, err := p.Acquire(ctx, c)
	if err != nil {
		return err
	}

	attachErr := s.neg.AttachLocalTracks(ctx, stream.Tracks())
	if attachErr != nil && !s.neg.MediaAttached() {
		stream.Stop()
		return attachErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stream.Stop()
		return negotiation.ErrClosed
	}
	// A partly attached stream stays with the session until it closes.
	s.stream = stream
	if attachErr != nil {
		return attachErr
	}
	util.LogDebug("[%08x] local stream %s attached (%d tracks)", s.tag, stream.ID(), len(stream.Tracks()))
	return nil
}

// close releases the session's media, negotiator, peer connection and
// signaling channel.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if err := s.neg.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		util.LogDebug("[%08x] close peer connection: %v", s.tag, err)
	}
	s.channel.Close()
}
