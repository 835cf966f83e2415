package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/signaling"
	"github.com/1ureka/videoboard/internal/util"
)

// opQueueSize is the capacity of the negotiator's work queue.
const opQueueSize = 64

// State is the negotiation state of one session.
type State int32

const (
	Idle        State = iota // nothing exchanged yet
	Negotiating              // an offer/answer exchange is in progress
	Connected                // signaling stable and ICE connected
	Closed                   // terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// flags is the perfect negotiation bookkeeping of one session.
type flags struct {
	makingOffer                bool
	ignoreOffer                bool
	settingRemoteAnswerPending bool
}

// Hooks are optional callbacks. They run on the negotiator's loop goroutine
// (OnStateChange(Closed) runs on the goroutine calling Close) and must not
// call back into the negotiator's blocking methods.
type Hooks struct {
	OnStateChange  func(State)
	OnICEState     func(webrtc.ICEConnectionState)
	OnRemoteStream func(streamID string) // first unmute of each remote stream
}

// Config holds the parameters of a Negotiator.
type Config struct {
	Role  Role
	Nonce string // session id, used to tag log lines
	Hooks Hooks

	// Initial is the message that opened the session, when the remote side
	// opened it. It is applied before any peer connection event, so a
	// callee answers the caller's offer instead of racing it with its own.
	Initial protocol.Message
}

// op is one unit of work executed on the loop goroutine.
type op struct {
	fn    func() error
	reply chan error // nil for fire-and-forget work
}

// Negotiator drives one session's peer connection through offer/answer and
// candidate exchange. All of its work, whether triggered by the peer
// connection, by inbound messages or by the caller, runs in order on one
// goroutine, so the negotiation flags are never accessed concurrently.
type Negotiator struct {
	pc    PeerConnection
	ch    signaling.Channel
	role  Role
	tag   uint32
	hooks Hooks

	ops       chan op
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	attached  atomic.Bool

	// rounds counts offer/answer exchanges that reached stable. A
	// negotiation-needed raised before the latest round is stale: the peer
	// connection raises it again if the round did not cover the change.
	rounds atomic.Uint64

	// Owned by the loop goroutine.
	flags   flags
	pending []webrtc.ICECandidateInit
	streams map[string]struct{}
	ice     webrtc.ICEConnectionState
}

// New creates a negotiator for pc and ch and starts its loop. It registers
// itself as the sink of pc and as the message handler of ch.
func New(pc PeerConnection, ch signaling.Channel, cfg Config) *Negotiator {
	n := &Negotiator{
		pc:      pc,
		ch:      ch,
		role:    cfg.Role,
		tag:     util.SessionTag(cfg.Nonce),
		hooks:   cfg.Hooks,
		ops:     make(chan op, opQueueSize),
		done:    make(chan struct{}),
		streams: make(map[string]struct{}),
	}
	n.state.Store(int32(Idle))

	if cfg.Initial != nil {
		initial := cfg.Initial
		n.ops <- op{fn: func() error {
			if err := n.apply(initial); err != nil {
				util.LogWarning("[%08x] %v", n.tag, err)
			}
			return nil
		}}
	}

	// Events held by pc are queued before the loop starts, so they are
	// stamped with the round that precedes Initial's answer.
	pc.SetSink(n.Post)
	go n.loop()

	ch.OnMessage(func(msg protocol.Message) {
		err := n.Handle(context.Background(), msg)
		if err != nil && !errors.Is(err, ErrClosed) {
			util.LogWarning("[%08x] %v", n.tag, err)
		}
	})

	return n
}

// loop is the single dispatch point of the session.
func (n *Negotiator) loop() {
	for {
		select {
		case o := <-n.ops:
			err := o.fn()
			if o.reply != nil {
				o.reply <- err
			}
		case <-n.done:
			return
		}
	}
}

// do runs fn on the loop and waits for its result. It must not be called
// from the loop goroutine itself.
func (n *Negotiator) do(ctx context.Context, fn func() error) error {
	o := op{fn: fn, reply: make(chan error, 1)}

	select {
	case n.ops <- o:
	case <-n.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-o.reply:
		return err
	case <-n.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Role returns the local glare-resolution role.
func (n *Negotiator) Role() Role { return n.role }

// State returns the current negotiation state.
func (n *Negotiator) State() State { return State(n.state.Load()) }

func (n *Negotiator) closed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// setState must run on the loop.
func (n *Negotiator) setState(s State) {
	if n.closed() {
		return
	}
	if State(n.state.Swap(int32(s))) == s {
		return
	}
	util.LogDebug("[%08x] negotiation %s", n.tag, s)
	if n.hooks.OnStateChange != nil {
		n.hooks.OnStateChange(s)
	}
}

// Post queues a peer connection event. It never blocks once the negotiator
// is closed and events posted after Close are dropped.
func (n *Negotiator) Post(ev Event) {
	round := n.rounds.Load()
	select {
	case n.ops <- op{fn: func() error { n.handleEvent(ev, round); return nil }}:
	case <-n.done:
	}
}

// Handle processes one inbound signaling message and returns when it has
// been applied. Rejections by the peer connection are returned as
// *ApplyError, except for candidate failures while a colliding offer is
// being ignored, which are swallowed.
func (n *Negotiator) Handle(ctx context.Context, msg protocol.Message) error {
	return n.do(ctx, func() error { return n.apply(msg) })
}

func (n *Negotiator) apply(msg protocol.Message) error {
	if n.closed() {
		return ErrClosed
	}
	switch m := msg.(type) {
	case protocol.Description:
		return n.handleDescription(m.SDP)
	case protocol.Candidate:
		return n.handleCandidate(m.Init)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrInvalidMessage, msg)
	}
}

// AttachLocalTracks adds the local media tracks to the connection. It may
// succeed only once per session. Once any track has been added the session
// counts as having media, even if a later track is rejected.
func (n *Negotiator) AttachLocalTracks(ctx context.Context, tracks []webrtc.TrackLocal) error {
	return n.do(ctx, func() error {
		if n.closed() {
			return ErrClosed
		}
		if n.attached.Load() {
			return ErrMediaAlreadyAttached
		}
		for i, t := range tracks {
			if err := n.pc.AddTrack(t); err != nil {
				if i > 0 {
					n.attached.Store(true)
				}
				return fmt.Errorf("failed to add %s track %s: %w", t.Kind(), t.ID(), err)
			}
		}
		n.attached.Store(true)
		return nil
	})
}

// MediaAttached reports whether local tracks were added to the session.
func (n *Negotiator) MediaAttached() bool {
	return n.attached.Load()
}

// Close stops the loop and closes the peer connection. Work still queued is
// discarded. Safe to call more than once and from hooks.
func (n *Negotiator) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		n.state.Store(int32(Closed))
		err = n.pc.Close()
		if n.hooks.OnStateChange != nil {
			n.hooks.OnStateChange(Closed)
		}
	})
	return err
}

// Done returns a channel closed when the negotiator is closed.
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop-side handlers
// ──────────────────────────────────────────────────────────────────────────────

func (n *Negotiator) handleEvent(ev Event, round uint64) {
	if n.closed() {
		return
	}

	switch ev.Kind {
	case NegotiationNeeded:
		if round != n.rounds.Load() {
			util.LogDebug("[%08x] negotiation-needed predates the last exchange, skipping", n.tag)
			return
		}
		n.makeOffer()

	case LocalCandidate:
		if ev.Candidate != nil {
			n.ch.Send(protocol.Candidate{Init: *ev.Candidate})
		}

	case ICEStateChange:
		util.LogDebug("[%08x] ICE %s", n.tag, ev.ICEState)
		if n.hooks.OnICEState != nil {
			n.hooks.OnICEState(ev.ICEState)
		}
		n.ice = ev.ICEState
		n.refreshState()

	case TrackUnmuted:
		if _, seen := n.streams[ev.StreamID]; seen {
			return
		}
		n.streams[ev.StreamID] = struct{}{}
		util.LogDebug("[%08x] remote stream %s ready (track %s)", n.tag, ev.StreamID, ev.TrackID)
		if n.hooks.OnRemoteStream != nil {
			n.hooks.OnRemoteStream(ev.StreamID)
		}
	}
}

// makeOffer answers a negotiation-needed notification. Failures are logged
// and leave the session negotiating until the next trigger.
func (n *Negotiator) makeOffer() {
	if state := n.pc.SignalingState(); state != webrtc.SignalingStateStable {
		util.LogDebug("[%08x] negotiation needed in %s, skipping offer", n.tag, state)
		return
	}

	n.setState(Negotiating)
	n.flags.makingOffer = true
	defer func() {
		if !n.closed() {
			n.flags.makingOffer = false
		}
	}()

	offer, err := n.pc.CreateOffer()
	if err != nil {
		util.LogError("[%08x] failed to create offer: %v", n.tag, err)
		return
	}
	if n.closed() {
		return
	}

	if err := n.pc.SetLocalDescription(offer); err != nil {
		util.LogError("[%08x] failed to set local offer: %v", n.tag, err)
		return
	}
	if n.closed() {
		return
	}

	n.sendLocalDescription()
}

func (n *Negotiator) handleDescription(desc webrtc.SessionDescription) error {
	readyForOffer := !n.flags.makingOffer &&
		(n.pc.SignalingState() == webrtc.SignalingStateStable || n.flags.settingRemoteAnswerPending)
	collision := desc.Type == webrtc.SDPTypeOffer && !readyForOffer

	n.flags.ignoreOffer = n.role == Impolite && collision
	if collision {
		util.Stats.AddCollision()
	}
	if n.flags.ignoreOffer {
		util.LogDebug("[%08x] offer collision, ignoring remote offer", n.tag)
		n.pending = nil
		return nil
	}
	if collision {
		util.LogDebug("[%08x] offer collision, rolling back local offer", n.tag)
	}

	n.setState(Negotiating)

	n.flags.settingRemoteAnswerPending = desc.Type == webrtc.SDPTypeAnswer
	if desc.Type == webrtc.SDPTypeAnswer {
		n.rounds.Add(1)
	}
	err := n.pc.SetRemoteDescription(desc)
	if n.closed() {
		return ErrClosed
	}
	n.flags.settingRemoteAnswerPending = false
	if err != nil {
		return &ApplyError{Op: "set remote " + desc.Type.String(), Err: err}
	}

	n.flushPending()

	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := n.pc.CreateAnswer()
		if err != nil {
			return &ApplyError{Op: "create answer", Err: err}
		}
		if n.closed() {
			return ErrClosed
		}
		n.rounds.Add(1)
		if err := n.pc.SetLocalDescription(answer); err != nil {
			return &ApplyError{Op: "set local answer", Err: err}
		}
		if n.closed() {
			return ErrClosed
		}
		n.sendLocalDescription()
	}

	n.refreshState()
	return nil
}

func (n *Negotiator) handleCandidate(init webrtc.ICECandidateInit) error {
	if n.pc.RemoteDescription() == nil {
		if n.flags.ignoreOffer {
			return nil
		}
		n.pending = append(n.pending, init)
		return nil
	}

	if err := n.pc.AddICECandidate(init); err != nil {
		if n.flags.ignoreOffer {
			util.LogDebug("[%08x] candidate of ignored offer rejected: %v", n.tag, err)
			return nil
		}
		return &ApplyError{Op: "add candidate", Err: err}
	}
	return nil
}

// flushPending applies candidates that arrived before the first remote
// description.
func (n *Negotiator) flushPending() {
	pending := n.pending
	n.pending = nil
	for _, init := range pending {
		if err := n.pc.AddICECandidate(init); err != nil {
			util.LogWarning("[%08x] buffered candidate rejected: %v", n.tag, err)
		}
	}
}

func (n *Negotiator) sendLocalDescription() {
	local := n.pc.LocalDescription()
	if local == nil {
		return
	}
	n.ch.Send(protocol.Description{SDP: *local})
}

// refreshState recomputes connected/negotiating from the last ICE state and
// the signaling state.
func (n *Negotiator) refreshState() {
	iceUp := n.ice == webrtc.ICEConnectionStateConnected || n.ice == webrtc.ICEConnectionStateCompleted
	stable := n.pc.SignalingState() == webrtc.SignalingStateStable

	switch {
	case iceUp && stable:
		n.setState(Connected)
	case n.State() == Connected:
		n.setState(Negotiating)
	}
}
