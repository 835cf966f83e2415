package protocol

import "time"

// EnvelopeType identifies what an inbox record carries.
type EnvelopeType string

const (
	TypeSignal  EnvelopeType = "signal"  // Data is an encoded Message
	TypeCaption EnvelopeType = "caption" // Data is caption text
	TypePeek    EnvelopeType = "peek"    // Data is the endpoint id to call
	TypeReload  EnvelopeType = "reload"  // Data is unused
)

// Envelope is one record in an endpoint's relay inbox.
type Envelope struct {
	ID        string       `json:"id"`
	Timestamp int64        `json:"timestamp"` // send time, unix milliseconds
	Nonce     string       `json:"nonce,omitempty"`
	Src       string       `json:"src,omitempty"`
	Type      EnvelopeType `json:"type,omitempty"`
	Data      string       `json:"data,omitempty"`
}

// SentAt returns the envelope timestamp as a time.Time.
func (e *Envelope) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Stamp sets the envelope timestamp.
func (e *Envelope) Stamp(t time.Time) {
	e.Timestamp = t.UnixMilli()
}
