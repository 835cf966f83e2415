package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/relay"
	"github.com/1ureka/videoboard/internal/util"
)

const (
	// DefaultStaleWindow is how old an inbox record may be and still be
	// delivered.
	DefaultStaleWindow = 60 * time.Second

	seenCacheSize = 1024
)

// ErrSubscriptionEnded is returned by Inbox.Run when the relay closes the
// subscription while the caller still wants it.
var ErrSubscriptionEnded = errors.New("relay subscription ended")

// Inbox consumes the relay subscription of the local endpoint. Every record
// is deleted from the relay after it has been handled or rejected.
type Inbox struct {
	relay  relay.Relay
	owner  string
	window time.Duration
	seen   *lru.Cache[string, struct{}]
	now    func() time.Time
}

// NewInbox creates an inbox for owner. A non-positive window selects
// DefaultStaleWindow.
func NewInbox(r relay.Relay, owner string, window time.Duration) *Inbox {
	if window <= 0 {
		window = DefaultStaleWindow
	}
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Inbox{
		relay:  r,
		owner:  owner,
		window: window,
		seen:   seen,
		now:    time.Now,
	}
}

// Run delivers admitted records to handle until ctx is cancelled. handle is
// called from a single goroutine, in delivery order.
func (in *Inbox) Run(ctx context.Context, handle func(*protocol.Envelope)) error {
	deliveries, err := in.relay.Subscribe(ctx, in.owner)
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbox %q: %w", in.owner, err)
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionEnded
			}
			in.process(ctx, d, handle)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (in *Inbox) process(ctx context.Context, d relay.Delivery, handle func(*protocol.Envelope)) {
	if err := in.admit(d.Envelope); err != nil {
		switch {
		case errors.Is(err, ErrStaleMessage):
			util.Stats.AddDroppedStale()
		case errors.Is(err, ErrDuplicate):
			util.Stats.AddDroppedDup()
		}
		util.LogDebug("inbox: dropping %s from %q: %v", d.Envelope.Type, d.Envelope.Src, err)
	} else {
		handle(d.Envelope)
	}

	if err := in.relay.Ack(ctx, in.owner, d.Key); err != nil && ctx.Err() == nil {
		util.LogWarning("inbox: failed to delete record %s: %v", d.Key, err)
	}
}

// admit decides whether env may be delivered. A record is stale when its
// timestamp is at or before now minus the window.
func (in *Inbox) admit(env *protocol.Envelope) error {
	cutoff := in.now().Add(-in.window)
	if !env.SentAt().After(cutoff) {
		return fmt.Errorf("%w: sent %s ago", ErrStaleMessage, in.now().Sub(env.SentAt()).Round(time.Millisecond))
	}

	if env.ID == "" {
		return nil
	}
	if ok, _ := in.seen.ContainsOrAdd(env.ID, struct{}{}); ok {
		return fmt.Errorf("%w: id %s", ErrDuplicate, env.ID)
	}
	return nil
}
