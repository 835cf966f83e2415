// Package app ties the relay, signaling, negotiation, transport, media and
// liveness packages into an Endpoint that places and answers calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gonanoid "github.com/matoous/go-nanoid"

	"github.com/1ureka/videoboard/internal/media"
	"github.com/1ureka/videoboard/internal/negotiation"
	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/relay"
	"github.com/1ureka/videoboard/internal/signaling"
	"github.com/1ureka/videoboard/internal/util"
)

const retiredCacheSize = 256

var (
	// ErrBusy is returned by Call while a session is active.
	ErrBusy = errors.New("a call is already active")
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active call")
	// ErrSelfCall is returned by Call with the endpoint's own id.
	ErrSelfCall = errors.New("cannot call self")
)

// Options configure an Endpoint.
type Options struct {
	ID          string
	Relay       relay.Relay
	Media       media.Provider // nil: media.Unavailable
	Constraints media.Constraints
	ICEServers  []string      // nil: public STUN servers
	Timeout     time.Duration // silence before teardown
	StaleWindow time.Duration // inbox staleness window
	Hooks       Hooks
}

// Endpoint is one local call endpoint. It holds at most one session.
type Endpoint struct {
	opts  Options
	inbox *signaling.Inbox

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *session

	retired *lru.Cache[string, struct{}] // nonces of torn-down sessions
}

// New creates an endpoint. Run must be called to receive calls.
func New(opts Options) (*Endpoint, error) {
	if opts.ID == "" {
		return nil, errors.New("endpoint id is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("relay is required")
	}
	if opts.Media == nil {
		opts.Media = media.Unavailable{}
	}

	retired, err := lru.New[string, struct{}](retiredCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		opts:    opts,
		inbox:   signaling.NewInbox(opts.Relay, opts.ID, opts.StaleWindow),
		ctx:     ctx,
		cancel:  cancel,
		retired: retired,
	}, nil
}

// ID returns the local endpoint id.
func (e *Endpoint) ID() string { return e.opts.ID }

// Run consumes the local inbox until ctx is cancelled or the relay ends the
// subscription.
func (e *Endpoint) Run(ctx context.Context) error {
	err := e.inbox.Run(ctx, e.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close ends the active session and stops the endpoint.
func (e *Endpoint) Close() {
	e.Stop()
	e.cancel()
}

// Active reports the remote id and nonce of the active session.
func (e *Endpoint) Active() (remote, nonce string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", "", false
	}
	return e.current.remote, e.current.nonce, true
}

// Call starts a session with remote under a fresh nonce.
func (e *Endpoint) Call(remote string) error {
	if remote == e.opts.ID {
		return ErrSelfCall
	}
	if remote == "" {
		return errors.New("remote id is required")
	}

	nonce, err := gonanoid.Nanoid()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	s, err := e.openSession(remote, nonce, nil)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to open session: %w", err)
	}
	e.current = s
	e.mu.Unlock()

	e.started(s)
	return nil
}

// Stop ends the active session, if any. It reports whether there was one.
func (e *Endpoint) Stop() bool {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s == nil {
		return false
	}
	s.sup.Stop()
	return true
}

// RetryMedia acquires local media for the active session again, after a
// failure reported through Hooks.OnMediaError.
func (e *Endpoint) RetryMedia(ctx context.Context) error {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	return s.attachMedia(ctx, e.opts.Media, e.opts.Constraints)
}

// SendCaption shows text on dst.
func (e *Endpoint) SendCaption(ctx context.Context, dst, text string) error {
	return e.push(ctx, dst, protocol.TypeCaption, text)
}

// SendPeek asks dst to call target.
func (e *Endpoint) SendPeek(ctx context.Context, dst, target string) error {
	return e.push(ctx, dst, protocol.TypePeek, target)
}

// SendReload asks dst to restart.
func (e *Endpoint) SendReload(ctx context.Context, dst string) error {
	return e.push(ctx, dst, protocol.TypeReload, "")
}

func (e *Endpoint) push(ctx context.Context, dst string, typ protocol.EnvelopeType, data string) error {
	env := signaling.NewEnvelope(e.opts.ID, typ, "", data)
	if err := e.opts.Relay.Push(ctx, dst, env); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", typ, dst, err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbox handling
// ──────────────────────────────────────────────────────────────────────────────

func (e *Endpoint) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSignal:
		e.handleSignal(env)
	case protocol.TypeCaption:
		if e.opts.Hooks.OnCaption != nil {
			e.opts.Hooks.OnCaption(env.Src, env.Data)
		}
	case protocol.TypePeek:
		if err := e.Call(env.Data); err != nil {
			util.LogWarning("peek from %q: %v", env.Src, err)
		}
	case protocol.TypeReload:
		if e.opts.Hooks.OnReload != nil {
			e.opts.Hooks.OnReload(env.Src)
		}
	default:
		util.LogDebug("inbox: ignoring %q record from %q", env.Type, env.Src)
	}
}

// handleSignal binds a signal to the active session, opening or replacing
// the session when binding says so.
func (e *Endpoint) handleSignal(env *protocol.Envelope) {
	msg, err := env.SignalMessage()
	if err != nil {
		util.LogWarning("inbox: bad signal from %q: %v", env.Src, err)
		return
	}

	e.mu.Lock()
	cur := e.current
	view := signaling.View{Retired: e.retired.Contains}
	if cur != nil {
		view.Active = true
		view.Nonce = cur.nonce
		view.Remote = cur.remote
		view.Polite = cur.role == negotiation.Polite
	}

	decision, err := signaling.Bind(view, env, msg)
	switch decision {
	case signaling.Drop:
		e.mu.Unlock()
		util.Stats.AddDroppedBind()
		util.LogDebug("inbox: %v", err)
		return

	case signaling.Deliver:
		e.mu.Unlock()
		cur.sup.Touch()
		cur.channel.Deliver(msg)
		return

	case signaling.Supersede:
		e.current = nil
		e.retired.Add(cur.nonce, struct{}{})
	}

	s, err := e.openSession(env.Src, env.Nonce, msg)
	if err != nil {
		e.mu.Unlock()
		util.LogError("failed to answer %s: %v", env.Src, err)
		if cur != nil {
			cur.sup.Expire("superseded")
		}
		return
	}
	e.current = s
	e.mu.Unlock()

	util.Stats.AddSignalRecv()
	if cur != nil {
		util.LogDebug("[%08x] superseded by %s from %s", cur.tag, env.Nonce, env.Src)
		cur.sup.Expire("superseded by " + env.Nonce)
	}
	e.started(s)
}

// started reports a new session and attaches local media in the background.
func (e *Endpoint) started(s *session) {
	util.LogInfo("Call with %s started", s.remote)
	if e.opts.Hooks.OnSessionOpened != nil {
		e.opts.Hooks.OnSessionOpened(s.remote, s.nonce)
	}

	go func() {
		err := s.attachMedia(e.ctx, e.opts.Media, e.opts.Constraints)
		if err == nil || errors.Is(err, negotiation.ErrClosed) {
			return
		}
		util.LogWarning("[%08x] local media: %v", s.tag, err)
		if e.opts.Hooks.OnMediaError != nil {
			e.opts.Hooks.OnMediaError(err)
		}
	}()
}

// teardown is the supervisor's teardown callback. It runs once per session.
func (e *Endpoint) teardown(s *session, reason string) {
	e.mu.Lock()
	if e.current == s {
		e.current = nil
	}
	e.retired.Add(s.nonce, struct{}{})
	e.mu.Unlock()

	s.close()
	util.Stats.AddSessionClosed()
	util.LogInfo("Call with %s ended: %s", s.remote, reason)

	if e.opts.Hooks.OnSessionClosed != nil {
		e.opts.Hooks.OnSessionClosed(s.remote, s.nonce, reason)
	}
}
