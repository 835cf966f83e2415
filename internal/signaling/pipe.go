package signaling

import (
	"sync"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/util"
)

// Port is one end of an in-process linked pair created by Pipe. Messages
// sent on one port are delivered FIFO to the handler of the other.
type Port struct {
	peer *Port

	mu      sync.Mutex
	queue   []protocol.Message
	handler func(protocol.Message)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// Compile-time interface check.
var _ Channel = (*Port)(nil)

// Pipe returns two linked ports. Each port runs its own delivery goroutine,
// so a handler may Send without deadlocking against the other side.
func Pipe() (*Port, *Port) {
	a := newPort()
	b := newPort()
	a.peer = b
	b.peer = a
	go a.pump()
	go b.pump()
	return a, b
}

func newPort() *Port {
	return &Port{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Send encodes msg and queues the decoded copy on the peer port. The copy
// keeps both sides from sharing mutable descriptions.
func (p *Port) Send(msg protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		util.LogError("pipe: failed to encode message: %v", err)
		return
	}
	copied, err := protocol.DecodeMessage(data)
	if err != nil {
		util.LogError("pipe: failed to decode message: %v", err)
		return
	}
	p.peer.enqueue(copied)
}

func (p *Port) enqueue(msg protocol.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	p.signal()
}

func (p *Port) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// OnMessage registers the handler. Messages queued before registration are
// delivered once a handler is present.
func (p *Port) OnMessage(handler func(protocol.Message)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	p.signal()
}

// pump delivers queued messages one at a time until the port is closed.
func (p *Port) pump() {
	for {
		select {
		case <-p.wake:
		case <-p.done:
			return
		}

		for {
			p.mu.Lock()
			if p.closed || p.handler == nil || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			msg := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			h := p.handler
			p.mu.Unlock()

			h(msg)
		}
	}
}

// Close stops delivery to this port and drops anything still queued.
// Safe to call more than once.
func (p *Port) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.queue = nil
	close(p.done)
}
