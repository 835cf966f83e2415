package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/protocol"
)

// fakePC is a scripted peer connection implementing the signaling state
// machine of RFC 8829 closely enough for negotiation tests. An offer landing
// in have-local-offer replaces the pending local offer, as the pion adapter
// does by rebuilding its connection.
type fakePC struct {
	name string

	mu         sync.Mutex
	state      webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []string
	tracks     int
	offers     int
	rollbacks  int
	closed     bool
	sink       func(Event)
	early      []Event // raised before SetSink, replayed by it

	failCreateOffer bool
	failTrack       int // AddTrack call number that fails, 1-based; 0 never
	trackCalls      int
}

func newFakePC(name string) *fakePC {
	return &fakePC{name: name, state: webrtc.SignalingStateStable}
}

func (f *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateOffer {
		return webrtc.SessionDescription{}, errors.New("create offer failed")
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", f.name, f.offers)}, nil
}

func (f *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", f.state)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.name + "-to-" + f.remote.SDP}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveRemoteOffer:
		f.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("set local %s in %s", desc.Type, f.state)
	}
	d := desc
	f.local = &d
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.rollbacks++
		f.local = nil
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("set remote %s in %s", desc.Type, f.state)
	}
	d := desc
	f.remote = &d
	return nil
}

func (f *fakePC) AddICECandidate(init webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("no remote description")
	}
	if init.Candidate == "bad" {
		return errors.New("malformed candidate")
	}
	for _, c := range f.candidates {
		if c == init.Candidate {
			return nil
		}
	}
	f.candidates = append(f.candidates, init.Candidate)
	return nil
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackCalls++
	if f.trackCalls == f.failTrack {
		return errors.New("add track failed")
	}
	f.tracks++
	return nil
}

func (f *fakePC) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePC) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePC) SetSink(sink func(Event)) {
	f.mu.Lock()
	early := f.early
	f.early = nil
	f.sink = sink
	f.mu.Unlock()

	for _, ev := range early {
		sink(ev)
	}
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// emit posts an event through the registered sink, as the real adapter does.
func (f *fakePC) emit(ev Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

func (f *fakePC) snapshot() (state webrtc.SignalingState, local, remote string, cands []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.local != nil {
		local = f.local.SDP
	}
	if f.remote != nil {
		remote = f.remote.SDP
	}
	return f.state, local, remote, append([]string(nil), f.candidates...)
}

// heldChannel is one end of a linked pair whose deliveries are released
// explicitly with flush, so tests control interleaving.
type heldChannel struct {
	peer *heldChannel

	mu      sync.Mutex
	inbound []protocol.Message
	handler func(protocol.Message)
}

func heldPair() (*heldChannel, *heldChannel) {
	a, b := &heldChannel{}, &heldChannel{}
	a.peer, b.peer = b, a
	return a, b
}

func (c *heldChannel) Send(msg protocol.Message) {
	c.peer.mu.Lock()
	c.peer.inbound = append(c.peer.inbound, msg)
	c.peer.mu.Unlock()
}

func (c *heldChannel) OnMessage(h func(protocol.Message)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *heldChannel) queued() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.inbound...)
}

// flush delivers everything queued for this end, in order, and returns how
// many messages were delivered.
func (c *heldChannel) flush() int {
	c.mu.Lock()
	msgs := c.inbound
	c.inbound = nil
	h := c.handler
	c.mu.Unlock()

	for _, m := range msgs {
		h(m)
	}
	return len(msgs)
}

// waitQueued blocks until c has at least n undelivered messages.
func waitQueued(t *testing.T, c *heldChannel, n int) []protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		q := c.queued()
		if len(q) >= n {
			return q
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d queued messages, have %d", n, len(q))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
