package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/videoboard/internal/protocol"
)

func signalEnvelope(id string) *protocol.Envelope {
	env := &protocol.Envelope{ID: id, Nonce: "n1", Src: "alice", Type: protocol.TypeSignal, Data: "{}"}
	env.Stamp(time.Now())
	return env
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

// relayContract runs the behaviour every Relay implementation shares.
func relayContract(t *testing.T, r Relay) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backlog pushed before the subscription is replayed.
	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("e1")))

	ch, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, "e1", d.Envelope.ID)
	assert.Equal(t, protocol.TypeSignal, d.Envelope.Type)
	assert.NotEmpty(t, d.Key)
	require.NoError(t, r.Ack(ctx, "bob", d.Key))

	// Live pushes arrive in push order from a single sender.
	for i := 2; i <= 4; i++ {
		require.NoError(t, r.Push(ctx, "bob", signalEnvelope(fmt.Sprintf("e%d", i))))
	}
	for i := 2; i <= 4; i++ {
		d := receive(t, ch)
		assert.Equal(t, fmt.Sprintf("e%d", i), d.Envelope.ID)
		require.NoError(t, r.Ack(ctx, "bob", d.Key))
	}

	// Acking twice is harmless.
	require.NoError(t, r.Ack(ctx, "bob", d.Key))

	// Other inboxes are unaffected.
	require.NoError(t, r.Push(ctx, "carol", signalEnvelope("c1")))
	select {
	case d := <-ch:
		t.Fatalf("bob received carol's record %s", d.Envelope.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryRelayContract(t *testing.T) {
	relayContract(t, NewMemoryRelay())
}

// TestMemoryRelayReplaysUnacked verifies that records survive a dropped
// subscription until they are acked.
func TestMemoryRelayReplaysUnacked(t *testing.T) {
	r := NewMemoryRelay()
	ctx := context.Background()

	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("a")))
	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("b")))

	subCtx, cancel := context.WithCancel(ctx)
	ch, err := r.Subscribe(subCtx, "bob")
	require.NoError(t, err)
	first := receive(t, ch)
	require.NoError(t, r.Ack(ctx, "bob", first.Key))
	cancel()

	// The channel is closed once the subscription ends.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, r.Pending("bob"))

	ch2, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)
	d := receive(t, ch2)
	assert.Equal(t, "b", d.Envelope.ID)
}

// TestMemoryRelayStoresCopy verifies that mutating a pushed envelope does not
// affect the stored record.
func TestMemoryRelayStoresCopy(t *testing.T) {
	r := NewMemoryRelay()
	ctx := context.Background()

	env := signalEnvelope("orig")
	require.NoError(t, r.Push(ctx, "bob", env))
	env.ID = "mutated"

	ch, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "orig", receive(t, ch).Envelope.ID)
}

func TestMemoryRelayCancelledContext(t *testing.T) {
	r := NewMemoryRelay()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Push(ctx, "bob", signalEnvelope("x")), context.Canceled)
	_, err := r.Subscribe(ctx, "bob")
	assert.ErrorIs(t, err, context.Canceled)
}

// TestMemoryRelaySlowReaderLosesNothing verifies that a subscriber that
// falls behind still receives every record, in push order, on the same
// subscription.
func TestMemoryRelaySlowReaderLosesNothing(t *testing.T) {
	r := NewMemoryRelay()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)

	const total = 600
	for i := 0; i < total; i++ {
		require.NoError(t, r.Push(ctx, "bob", signalEnvelope(fmt.Sprintf("e%d", i))))
	}

	for i := 0; i < total; i++ {
		d := receive(t, ch)
		require.Equal(t, fmt.Sprintf("e%d", i), d.Envelope.ID)
		require.NoError(t, r.Ack(ctx, "bob", d.Key))
	}
	assert.Zero(t, r.Pending("bob"))
}
