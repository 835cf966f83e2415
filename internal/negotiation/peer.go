package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the part of a WebRTC peer connection the negotiator
// drives. SetRemoteDescription must discard a pending local offer when an
// offer arrives in have-local-offer, or fail if it cannot.
//
// Every asynchronous notification of the connection is funnelled into the
// single function registered with SetSink.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(init webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error

	SignalingState() webrtc.SignalingState
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription

	SetSink(sink func(Event))
	Close() error
}

// EventKind identifies a peer connection notification.
type EventKind int

const (
	NegotiationNeeded EventKind = iota // local description needs (re)negotiation
	LocalCandidate                     // a local ICE candidate was gathered
	ICEStateChange                     // ICE connection state changed
	TrackUnmuted                       // a remote track produced its first media
)

func (k EventKind) String() string {
	switch k {
	case NegotiationNeeded:
		return "negotiation-needed"
	case LocalCandidate:
		return "local-candidate"
	case ICEStateChange:
		return "ice-state-change"
	case TrackUnmuted:
		return "track-unmuted"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one notification posted to a negotiator. Only the fields of its
// Kind are set.
type Event struct {
	Kind EventKind

	Candidate *webrtc.ICECandidateInit  // LocalCandidate
	ICEState  webrtc.ICEConnectionState // ICEStateChange
	StreamID  string                    // TrackUnmuted
	TrackID   string                    // TrackUnmuted
}
