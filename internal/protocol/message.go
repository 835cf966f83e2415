// Package protocol defines the signaling messages exchanged between two
// call endpoints and the envelope they travel in through the relay.
package protocol

import "github.com/pion/webrtc/v4"

// Message is a signaling message: either a Candidate or a Description.
// The set of implementations is closed; consumers switch on the concrete type.
type Message interface {
	isMessage()
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	Init webrtc.ICECandidateInit
}

// Description carries a session description (offer or answer).
type Description struct {
	SDP webrtc.SessionDescription
}

func (Candidate) isMessage()   {}
func (Description) isMessage() {}

// wireMessage is the JSON shape of a Message: exactly one field is set.
type wireMessage struct {
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}
