package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrInvalidMessage  = errors.New("invalid signaling message")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// EncodeMessage serializes a Message into its JSON wire form.
func EncodeMessage(msg Message) ([]byte, error) {
	var w wireMessage
	switch m := msg.(type) {
	case Candidate:
		init := m.Init
		w.Candidate = &init
	case Description:
		sdp := m.SDP
		w.Description = &sdp
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidMessage, msg)
	}
	return sonic.Marshal(&w)
}

// DecodeMessage parses the JSON wire form of a Message. Exactly one of
// "candidate" and "description" must be present.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch {
	case w.Description != nil && w.Candidate != nil:
		return nil, fmt.Errorf("%w: both candidate and description set", ErrInvalidMessage)
	case w.Description != nil:
		return Description{SDP: *w.Description}, nil
	case w.Candidate != nil:
		return Candidate{Init: *w.Candidate}, nil
	default:
		return nil, fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
}

// EncodeEnvelope serializes an Envelope for storage in a relay.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	return sonic.Marshal(env)
}

// DecodeEnvelope parses a stored Envelope. Records that carry a nonce but
// no type are treated as signals.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" && env.Nonce != "" {
		env.Type = TypeSignal
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return &env, nil
}

// SignalMessage decodes the Message carried by a signal envelope.
func (e *Envelope) SignalMessage() (Message, error) {
	if e.Type != TypeSignal {
		return nil, fmt.Errorf("%w: envelope type %q is not a signal", ErrInvalidMessage, e.Type)
	}
	return DecodeMessage([]byte(e.Data))
}
