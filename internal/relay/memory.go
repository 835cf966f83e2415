package relay

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/videoboard/internal/protocol"
)

// Compile-time interface check.
var _ Relay = (*MemoryRelay)(nil)

// MemoryRelay is an in-process Relay. It backs the WebSocket hub and is
// used directly by tests: two endpoints sharing one MemoryRelay can signal
// each other without any network.
type MemoryRelay struct {
	seq SeqGen

	mu      sync.Mutex
	inboxes map[string]*inbox
}

// inbox holds the undeleted records of one owner and its live subscribers.
type inbox struct {
	items map[string]*protocol.Envelope
	order []string // push order; may contain acked keys until compaction
	subs  map[*subscriber]struct{}
}

// subscriber queues deliveries without bound and hands them to its reader
// from a pump goroutine, so a slow reader never loses a record.
type subscriber struct {
	out  chan Delivery
	wake chan struct{}

	mu    sync.Mutex
	queue []Delivery
}

func newSubscriber() *subscriber {
	return &subscriber{
		out:  make(chan Delivery),
		wake: make(chan struct{}, 1),
	}
}

// offer queues a copy of a record for the subscriber. It never blocks.
func (s *subscriber) offer(key string, env *protocol.Envelope) {
	copied := *env
	s.mu.Lock()
	s.queue = append(s.queue, Delivery{Key: key, Envelope: &copied, Arrived: time.Now()})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump forwards queued deliveries in order until ctx is cancelled, then
// closes out.
func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		d := s.queue[0]
		s.queue[0] = Delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- d:
		case <-ctx.Done():
			return
		}
	}
}

// NewMemoryRelay creates an empty in-process relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		inboxes: make(map[string]*inbox),
	}
}

// inboxLocked returns the inbox for owner, creating it if needed.
// Caller must hold m.mu.
func (m *MemoryRelay) inboxLocked(owner string) *inbox {
	ib, ok := m.inboxes[owner]
	if !ok {
		ib = &inbox{
			items: make(map[string]*protocol.Envelope),
			subs:  make(map[*subscriber]struct{}),
		}
		m.inboxes[owner] = ib
	}
	return ib
}

// Push appends env to dst's inbox and offers it to every live subscriber.
func (m *MemoryRelay) Push(ctx context.Context, dst string, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Store a private copy so callers may reuse env.
	stored := *env
	key := m.seq.NextKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	ib := m.inboxLocked(dst)
	ib.items[key] = &stored
	ib.order = append(ib.order, key)

	for sub := range ib.subs {
		sub.offer(key, &stored)
	}
	return nil
}

// Subscribe replays owner's backlog in push order and then delivers new
// records until ctx is cancelled.
func (m *MemoryRelay) Subscribe(ctx context.Context, owner string) (<-chan Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscriber()

	m.mu.Lock()
	ib := m.inboxLocked(owner)
	for _, key := range ib.order {
		if env, ok := ib.items[key]; ok {
			sub.offer(key, env)
		}
	}
	ib.subs[sub] = struct{}{}
	m.mu.Unlock()

	go sub.pump(ctx)
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.inboxLocked(owner).subs, sub)
		m.mu.Unlock()
	}()

	return sub.out, nil
}

// Ack deletes a record from owner's inbox.
func (m *MemoryRelay) Ack(_ context.Context, owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ib := m.inboxLocked(owner)
	delete(ib.items, key)

	// Compact once acked keys dominate the order slice.
	if len(ib.order) > 2*len(ib.items)+16 {
		live := ib.order[:0]
		for _, k := range ib.order {
			if _, ok := ib.items[k]; ok {
				live = append(live, k)
			}
		}
		ib.order = live
	}
	return nil
}

// Pending returns the number of undeleted records in owner's inbox.
func (m *MemoryRelay) Pending(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inboxLocked(owner).items)
}
