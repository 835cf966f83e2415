// Package relay implements the per-endpoint inbox the call endpoints signal
// through. An inbox supports push-append, child-added subscription and
// manual deletion; delivery is at-least-once with no ordering guarantee
// across senders.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/videoboard/internal/protocol"
)

// ErrClosed is returned by operations on a relay client that has been closed.
var ErrClosed = errors.New("relay closed")

// Delivery is one inbox record handed to a subscriber.
type Delivery struct {
	Key      string // relay-assigned record key, used to Ack
	Envelope *protocol.Envelope
	Arrived  time.Time
}

// Relay is the message relay consumed by the signaling adapter.
type Relay interface {
	// Push appends env to the inbox of dst.
	Push(ctx context.Context, dst string, env *protocol.Envelope) error

	// Subscribe delivers every record in owner's inbox, starting with the
	// backlog, until ctx is cancelled. The returned channel is closed when
	// the subscription ends.
	Subscribe(ctx context.Context, owner string) (<-chan Delivery, error)

	// Ack deletes a delivered record. Acking a missing key is not an error.
	Ack(ctx context.Context, owner, key string) error
}
