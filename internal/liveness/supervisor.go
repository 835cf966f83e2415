// Package liveness tears a session down when it goes silent.
package liveness

import (
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/videoboard/internal/util"
)

// DefaultTimeout is how long a session may stay silent before teardown.
const DefaultTimeout = 60 * time.Second

// State is the supervisor state.
type State int

const (
	Idle     State = iota // created, not armed yet
	Armed                 // teardown timer running
	Fired                 // teardown ran
	Disarmed              // stopped without a pending timer; terminal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Disarmed:
		return "disarmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Beacon sends one heartbeat to the remote side.
type Beacon interface {
	Ping() error
}

// Supervisor owns the teardown timer of one session. Teardown runs exactly
// once, whichever of timeout, Expire or Stop gets there first.
type Supervisor struct {
	timeout  time.Duration
	tag      uint32
	teardown func(reason string)

	mu    sync.Mutex
	state State
	gen   uint64 // invalidates timers scheduled before the latest Arm
	timer *time.Timer
	stop  chan struct{}

	once sync.Once
}

// New creates an idle supervisor. teardown receives the reason the session
// ended. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration, nonce string, teardown func(reason string)) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		timeout:  timeout,
		tag:      util.SessionTag(nonce),
		teardown: teardown,
		stop:     make(chan struct{}),
	}
}

// Timeout returns the configured silence window.
func (s *Supervisor) Timeout() time.Duration { return s.timeout }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm (re)starts the teardown timer, cancelling any outstanding one. It has
// no effect once the supervisor fired or was disarmed.
func (s *Supervisor) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Fired || s.state == Disarmed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	s.gen++
	gen := s.gen
	s.state = Armed
	s.timer = time.AfterFunc(s.timeout, func() { s.onTimer(gen) })
}

// Heartbeat records an inbound keepalive.
func (s *Supervisor) Heartbeat() {
	util.Stats.AddHeartbeat()
	s.Arm()
}

// Touch records renegotiation or signaling activity.
func (s *Supervisor) Touch() {
	s.Arm()
}

func (s *Supervisor) onTimer(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Armed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.fire(fmt.Sprintf("no activity for %s", s.timeout))
}

// Expire tears the session down now, for reason.
func (s *Supervisor) Expire(reason string) {
	s.fire(reason)
}

// Stop tears the session down at the user's request.
func (s *Supervisor) Stop() {
	s.fire("stopped")
}

// Disarm cancels the timer and the pinger without running teardown. Later
// calls to Arm, Expire and Stop have no effect.
func (s *Supervisor) Disarm() {
	s.once.Do(func() {
		s.halt(Disarmed)
	})
}

func (s *Supervisor) fire(reason string) {
	s.once.Do(func() {
		s.halt(Fired)
		util.LogDebug("[%08x] session ending: %s", s.tag, reason)
		if s.teardown != nil {
			s.teardown(reason)
		}
	})
}

func (s *Supervisor) halt(final State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.state = final
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.stop)
}

// StartPinging sends a heartbeat through b every quarter of the timeout
// until the supervisor fires or is disarmed. Ping errors are ignored; the
// channel may not be open yet.
func (s *Supervisor) StartPinging(b Beacon) {
	interval := s.timeout / 4
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := b.Ping(); err != nil {
					util.LogDebug("[%08x] keepalive ping: %v", s.tag, err)
				}
			case <-s.stop:
				return
			}
		}
	}()
}
