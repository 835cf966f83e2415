package relay

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisRelay(t *testing.T) (*RedisRelay, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisRelay(rdb, "test")
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisRelayContract(t *testing.T) {
	r, _ := newTestRedisRelay(t)
	relayContract(t, r)
}

// TestRedisRelayAckDeletesEntry verifies that Ack removes the stream entry.
func TestRedisRelayAckDeletesEntry(t *testing.T) {
	r, mr := newTestRedisRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("e1")))
	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("e2")))

	ch, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)
	d := receive(t, ch)
	require.NoError(t, r.Ack(ctx, "bob", d.Key))

	entries, err := mr.Stream("test:inbox:bob")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, d.Key, entries[0].ID)
}

// TestRedisRelayDropsUndecodable verifies that a malformed entry is deleted
// and does not block later records.
func TestRedisRelayDropsUndecodable(t *testing.T) {
	r, mr := newTestRedisRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := mr.XAdd("test:inbox:bob", "*", []string{envelopeField, "not json"})
	require.NoError(t, err)
	require.NoError(t, r.Push(ctx, "bob", signalEnvelope("good")))

	ch, err := r.Subscribe(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "good", receive(t, ch).Envelope.ID)

	require.Eventually(t, func() bool {
		entries, err := mr.Stream("test:inbox:bob")
		return err == nil && len(entries) == 1
	}, defaultEventually, pollInterval)
}

func TestDialRedisFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := DialRedis(context.Background(), addr, "")
	assert.Error(t, err)
}
