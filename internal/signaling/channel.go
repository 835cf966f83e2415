// Package signaling adapts a message relay (or an in-process port pair) into
// the two-method pipe a negotiator talks through, and decides which session
// an inbound signal belongs to.
package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/relay"
	"github.com/1ureka/videoboard/internal/util"
)

// sendBufferSize is the outgoing message queue capacity of a RelayChannel.
const sendBufferSize = 64

// Channel is the signaling pipe between exactly two negotiators.
//
// Send is fire-and-forget: delivery failures are never reported to the
// caller. The handler registered with OnMessage receives each inbound
// message at most once, in arrival order, one at a time.
type Channel interface {
	Send(msg protocol.Message)
	OnMessage(handler func(protocol.Message))
}

// NewEnvelope builds a stamped, uniquely identified relay record.
func NewEnvelope(src string, typ protocol.EnvelopeType, nonce, data string) *protocol.Envelope {
	env := &protocol.Envelope{
		ID:    uuid.NewString(),
		Nonce: nonce,
		Src:   src,
		Type:  typ,
		Data:  data,
	}
	env.Stamp(time.Now())
	return env
}

// ──────────────────────────────────────────────────────────────────────────────
// RelayChannel
// ──────────────────────────────────────────────────────────────────────────────

// Compile-time interface check.
var _ Channel = (*RelayChannel)(nil)

// RelayChannel is the relay-backed Channel of one session. Outbound messages
// are queued and pushed to the remote inbox by a single writer goroutine.
// Inbound messages are fed in by the owner of the local Inbox via Deliver,
// after session binding.
type RelayChannel struct {
	relay  relay.Relay
	local  string
	remote string
	nonce  string

	queue  chan protocol.Message
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handler func(protocol.Message)
}

// NewRelayChannel creates the channel for session nonce between local and
// remote and starts its writer. Close releases it.
func NewRelayChannel(r relay.Relay, local, remote, nonce string) *RelayChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &RelayChannel{
		relay:  r,
		local:  local,
		remote: remote,
		nonce:  nonce,
		queue:  make(chan protocol.Message, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.loop()
	return c
}

// loop is the single writer. Each message becomes one signal envelope in the
// remote inbox.
func (c *RelayChannel) loop() {
	tag := util.SessionTag(c.nonce)
	for {
		select {
		case msg := <-c.queue:
			data, err := protocol.EncodeMessage(msg)
			if err != nil {
				util.LogError("[%08x] failed to encode signal: %v", tag, err)
				continue
			}

			env := NewEnvelope(c.local, protocol.TypeSignal, c.nonce, string(data))
			if err := c.relay.Push(c.ctx, c.remote, env); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				util.LogWarning("[%08x] failed to push signal to %s: %v", tag, c.remote, err)
				continue
			}
			util.Stats.AddSignalSent()
		case <-c.ctx.Done():
			return
		}
	}
}

// Send enqueues msg for the remote side. It blocks while the queue is full
// and returns silently once the channel is closed.
func (c *RelayChannel) Send(msg protocol.Message) {
	select {
	case c.queue <- msg:
	case <-c.ctx.Done():
	}
}

// OnMessage registers the inbound handler, replacing any previous one.
func (c *RelayChannel) OnMessage(handler func(protocol.Message)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Deliver hands an inbound message bound to this session to the handler.
// Messages delivered after Close or before a handler is registered are
// dropped.
func (c *RelayChannel) Deliver(msg protocol.Message) {
	if c.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		util.LogDebug("[%08x] no handler, dropping signal", util.SessionTag(c.nonce))
		return
	}
	util.Stats.AddSignalRecv()
	h(msg)
}

// Close stops the writer. Queued messages that were not pushed yet are
// discarded.
func (c *RelayChannel) Close() {
	c.cancel()
}
