package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/protocol"
)

// Decision is the outcome of binding an inbound signal to a session.
type Decision int

const (
	// Drop ignores the signal; the active session is left untouched.
	Drop Decision = iota
	// Open creates a new session under the signal's nonce.
	Open
	// Deliver hands the signal to the active session.
	Deliver
	// Supersede tears the active session down and opens a new one under
	// the signal's nonce.
	Supersede
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Open:
		return "open"
	case Deliver:
		return "deliver"
	case Supersede:
		return "supersede"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// View is what Bind needs to know about the local endpoint.
type View struct {
	Active bool   // a session is currently active
	Nonce  string // nonce of the active session
	Remote string // remote endpoint of the active session
	Polite bool   // local role towards Remote

	// Retired reports whether nonce belonged to a session that has already
	// been torn down. May be nil.
	Retired func(nonce string) bool
}

// Bind decides what to do with a signal envelope carrying msg.
//
// With no active session, a signal opens a new one unless its nonce was
// retired. A signal for the active nonce from the active remote is
// delivered. When both sides called each other at once, the impolite side
// receives the polite side's offer under a different nonce and supersedes
// its own pending session with it. Everything else is dropped with
// ErrSessionMismatch.
func Bind(v View, env *protocol.Envelope, msg protocol.Message) (Decision, error) {
	if env.Nonce == "" || env.Src == "" {
		return Drop, fmt.Errorf("%w: record has no nonce or source", ErrSessionMismatch)
	}

	if !v.Active {
		if v.Retired != nil && v.Retired(env.Nonce) {
			return Drop, fmt.Errorf("%w: nonce %s already closed", ErrSessionMismatch, env.Nonce)
		}
		return Open, nil
	}

	if env.Nonce == v.Nonce {
		if env.Src != v.Remote {
			return Drop, fmt.Errorf("%w: nonce %s owned by %q, not %q", ErrSessionMismatch, env.Nonce, v.Remote, env.Src)
		}
		return Deliver, nil
	}

	if env.Src == v.Remote && !v.Polite && isOffer(msg) {
		if v.Retired != nil && v.Retired(env.Nonce) {
			return Drop, fmt.Errorf("%w: nonce %s already closed", ErrSessionMismatch, env.Nonce)
		}
		return Supersede, nil
	}

	return Drop, fmt.Errorf("%w: active %s, got %s from %q", ErrSessionMismatch, v.Nonce, env.Nonce, env.Src)
}

func isOffer(msg protocol.Message) bool {
	d, ok := msg.(protocol.Description)
	return ok && d.SDP.Type == webrtc.SDPTypeOffer
}
