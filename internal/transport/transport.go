// Package transport adapts a pion PeerConnection to the negotiator: it turns
// pion's callbacks into negotiation events, emulates the rollback pion lacks
// and carries the keepalive channel of a session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/negotiation"
	"github.com/1ureka/videoboard/internal/util"
)

// readBufferSize is the RTP read buffer used to drain remote tracks.
const readBufferSize = 1500

// ErrRollbackUnsupported is returned when a remote offer collides with a
// pending local offer after the first exchange has completed. pion cannot
// leave have-local-offer except through an answer, and the connection can
// only be rebuilt before any description was agreed on.
var ErrRollbackUnsupported = errors.New("cannot roll back a local offer after the first exchange")

// Compile-time interface check.
var _ negotiation.PeerConnection = (*Transport)(nil)

// Options configure a Transport.
type Options struct {
	// ICEServers are STUN/TURN urls. Nil selects DefaultICEServers; an empty
	// non-nil slice disables them.
	ICEServers []string
}

// Transport wraps the PeerConnection and keepalive channel of one session.
//
// Its lifecycle is governed by the context passed at construction time and by
// Close. Every pion notification is funnelled to the sink registered with
// SetSink; notifications raised before that are held and replayed.
//
// Each connection starts with one audio and one video transceiver, so local
// media attached later replaces their placeholder tracks instead of adding
// m-lines, and attaching media never requires a renegotiation.
type Transport struct {
	api     *webrtc.API
	servers []string

	keepalive *Keepalive

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	slots    []*webrtc.RTPSender // senders still carrying a placeholder
	tracks   []webrtc.TrackLocal // local tracks, replayed on rebuild
	rebuilds int
	sink     func(negotiation.Event)
	backlog  []negotiation.Event
	pcState  webrtc.PeerConnectionState
}

// New creates a Transport backed by a new PeerConnection and a pre-negotiated
// keepalive channel.
func New(ctx context.Context, opts Options) (*Transport, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}

	servers := opts.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		api:       api,
		servers:   servers,
		keepalive: newKeepalive(),
		ctx:       tCtx,
		cancel:    tCancel,
		pcState:   webrtc.PeerConnectionStateNew,
	}

	if err := t.build(); err != nil {
		tCancel()
		return nil, err
	}
	return t, nil
}

// build creates a PeerConnection, makes it current and gives it the
// transceivers, keepalive channel and local tracks of the session. Events of
// a connection that is no longer current are dropped.
func (t *Transport) build() error {
	pc, err := newPeerConnection(t.api, t.servers)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.pc = pc
	t.slots = nil
	tracks := append([]webrtc.TrackLocal(nil), t.tracks...)
	t.mu.Unlock()

	pc.OnNegotiationNeeded(func() {
		t.emitFrom(pc, negotiation.Event{Kind: negotiation.NegotiationNeeded})
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.emitFrom(pc, negotiation.Event{Kind: negotiation.LocalCandidate, Candidate: &init})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.emitFrom(pc, negotiation.Event{Kind: negotiation.ICEStateChange, ICEState: state})
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.pc != pc {
			return
		}
		util.LogDebug("PeerConnection state: %s", state)
		t.pcState = state
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if t.owns(pc) {
			go t.drain(track)
		}
	})

	slots, err := addMediaSlots(pc)
	if err != nil {
		pc.Close()
		return err
	}
	for _, s := range slots {
		go drainRTCP(s)
	}
	t.mu.Lock()
	t.slots = slots
	t.mu.Unlock()

	dc, err := newKeepaliveChannel(pc)
	if err != nil {
		pc.Close()
		return err
	}
	t.keepalive.bind(dc)

	for _, track := range tracks {
		if err := t.attach(pc, track); err != nil {
			pc.Close()
			return err
		}
	}
	return nil
}

// conn returns the current PeerConnection.
func (t *Transport) conn() *webrtc.PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pc
}

func (t *Transport) owns(pc *webrtc.PeerConnection) bool {
	return t.conn() == pc
}

// emitFrom delivers ev if pc is still the current connection.
func (t *Transport) emitFrom(pc *webrtc.PeerConnection, ev negotiation.Event) {
	if t.owns(pc) {
		t.emit(ev)
	}
}

// emit delivers ev to the sink, or holds it until a sink is registered.
func (t *Transport) emit(ev negotiation.Event) {
	t.mu.Lock()
	sink := t.sink
	if sink == nil {
		t.backlog = append(t.backlog, ev)
	}
	t.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// drain reads a remote track until it ends. The first packet read counts as
// the track being unmuted.
func (t *Transport) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, readBufferSize)

	n, _, err := track.Read(buf)
	if err != nil {
		return
	}
	util.Stats.AddMediaBytes(n)
	t.emit(negotiation.Event{
		Kind:     negotiation.TrackUnmuted,
		StreamID: track.StreamID(),
		TrackID:  track.ID(),
	})

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		util.Stats.AddMediaBytes(n)

		if t.ctx.Err() != nil {
			return
		}
	}
}

// drainRTCP reads a sender's RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, readBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// SetSink registers the single receiver of this transport's events and
// replays anything raised before it.
func (t *Transport) SetSink(sink func(negotiation.Event)) {
	t.mu.Lock()
	backlog := t.backlog
	t.backlog = nil
	t.sink = sink
	t.mu.Unlock()

	for _, ev := range backlog {
		sink(ev)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Keepalive returns the liveness channel of the session.
func (t *Transport) Keepalive() *Keepalive {
	return t.keepalive
}

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the keepalive channel and PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.keepalive.close(), t.conn().Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pcState
}

// Rebuilds returns how many times a pending local offer was discarded by
// replacing the PeerConnection.
func (t *Transport) Rebuilds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rebuilds
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.conn().CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.conn().CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.conn().SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP. An offer arriving while a
// local offer is pending first discards the local offer.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	pc := t.conn()
	if sdp.Type == webrtc.SDPTypeOffer && pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := t.rollback(pc); err != nil {
			return err
		}
		pc = t.conn()
	}
	return pc.SetRemoteDescription(sdp)
}

// rollback discards the pending local offer of pc. pion rejects a rollback
// out of have-local-offer, so pc is replaced by a fresh connection carrying
// the same channel and tracks. That is only possible while no description has
// been agreed on: the remote side has not seen pc's credentials yet.
func (t *Transport) rollback(pc *webrtc.PeerConnection) error {
	if pc.CurrentLocalDescription() != nil || pc.CurrentRemoteDescription() != nil {
		return ErrRollbackUnsupported
	}

	if err := t.build(); err != nil {
		pc.Close()
		return fmt.Errorf("failed to rebuild peer connection: %w", err)
	}
	t.mu.Lock()
	t.rebuilds++
	t.mu.Unlock()

	if err := pc.Close(); err != nil {
		util.LogDebug("close replaced peer connection: %v", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.conn().AddICECandidate(candidate)
}

// AddTrack attaches a local track. A track of a kind with a free media slot
// takes it over without renegotiation; any other track is added.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	if err := t.attach(t.conn(), track); err != nil {
		return err
	}
	t.mu.Lock()
	t.tracks = append(t.tracks, track)
	t.mu.Unlock()
	return nil
}

// attach puts track on pc, preferring a placeholder sender of its kind.
func (t *Transport) attach(pc *webrtc.PeerConnection, track webrtc.TrackLocal) error {
	t.mu.Lock()
	var slot *webrtc.RTPSender
	for i, s := range t.slots {
		if s.Track() != nil && s.Track().Kind() == track.Kind() {
			slot = s
			t.slots = append(t.slots[:i:i], t.slots[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	if slot != nil {
		return slot.ReplaceTrack(track)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return err
	}
	go drainRTCP(sender)
	return nil
}

// SignalingState returns the current signaling state.
func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.conn().SignalingState()
}

// LocalDescription returns the pending or current local description.
func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	return t.conn().LocalDescription()
}

// RemoteDescription returns the pending or current remote description.
func (t *Transport) RemoteDescription() *webrtc.SessionDescription {
	return t.conn().RemoteDescription()
}
