package transport

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// pingPayload is the heartbeat message; its content is opaque to the peer.
const pingPayload = "ping"

// ErrKeepaliveNotOpen is returned by Ping before the channel has opened or
// after it has closed.
var ErrKeepaliveNotOpen = errors.New("keepalive channel not open")

// Keepalive is the best-effort liveness channel of a session. It follows the
// data channel of the transport's current connection.
type Keepalive struct {
	openSignal chan struct{}
	openOnce   sync.Once

	closeSignal chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	onMessage func()
	onClose   func()
}

func newKeepalive() *Keepalive {
	return &Keepalive{
		openSignal:  make(chan struct{}),
		closeSignal: make(chan struct{}),
	}
}

// bind makes dc the current channel. Callbacks of a replaced channel are
// ignored.
func (k *Keepalive) bind(dc *webrtc.DataChannel) {
	k.mu.Lock()
	k.dc = dc
	k.mu.Unlock()

	dc.OnOpen(func() {
		if k.current() == dc {
			k.openOnce.Do(func() { close(k.openSignal) })
		}
	})

	dc.OnMessage(func(webrtc.DataChannelMessage) {
		k.mu.Lock()
		fn := k.onMessage
		bound := k.dc == dc
		k.mu.Unlock()
		if bound && fn != nil {
			fn()
		}
	})

	dc.OnClose(func() {
		k.mu.Lock()
		fn := k.onClose
		bound := k.dc == dc
		k.mu.Unlock()
		if !bound {
			return
		}
		k.closeOnce.Do(func() { close(k.closeSignal) })
		if fn != nil {
			fn()
		}
	})
}

func (k *Keepalive) current() *webrtc.DataChannel {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dc
}

func (k *Keepalive) close() error {
	if dc := k.current(); dc != nil {
		return dc.Close()
	}
	return nil
}

// Ready returns a channel closed once the channel is open.
func (k *Keepalive) Ready() <-chan struct{} {
	return k.openSignal
}

// Closed returns a channel closed once the channel has closed.
func (k *Keepalive) Closed() <-chan struct{} {
	return k.closeSignal
}

// OnMessage registers the callback invoked for every heartbeat received.
func (k *Keepalive) OnMessage(fn func()) {
	k.mu.Lock()
	k.onMessage = fn
	k.mu.Unlock()
}

// OnClose registers the callback invoked when the channel closes. It is only
// called for a close observed after registration.
func (k *Keepalive) OnClose(fn func()) {
	k.mu.Lock()
	k.onClose = fn
	k.mu.Unlock()
}

// Ping sends one heartbeat.
func (k *Keepalive) Ping() error {
	select {
	case <-k.closeSignal:
		return ErrKeepaliveNotOpen
	default:
	}
	select {
	case <-k.openSignal:
	default:
		return ErrKeepaliveNotOpen
	}
	return k.current().SendText(pingPayload)
}
