package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/util"
)

const (
	envelopeField    = "envelope"
	redisReadCount   = 64
	redisBlock       = time.Second
	redisRetryDelay  = 500 * time.Millisecond
	defaultMaxLength = 1024
)

// Compile-time interface check.
var _ Relay = (*RedisRelay)(nil)

// RedisRelay keeps each inbox in a Redis stream named "<prefix>:inbox:<owner>".
// XADD appends, a blocking XREAD loop delivers new entries and XDEL acks.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

// NewRedisRelay creates a relay on an existing client. Streams are capped at
// roughly 1024 entries so an abandoned inbox cannot grow without bound.
func NewRedisRelay(rdb *redis.Client, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "videoboard"
	}
	return &RedisRelay{rdb: rdb, prefix: prefix, maxLen: defaultMaxLength}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, prefix string) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisRelay(rdb, prefix), nil
}

// Close releases the underlying client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

func (r *RedisRelay) stream(owner string) string {
	return r.prefix + ":inbox:" + owner
}

// Push appends env to dst's stream.
func (r *RedisRelay) Push(ctx context.Context, dst string, env *protocol.Envelope) error {
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream(dst),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{envelopeField: string(data)},
	}).Err()
}

// Subscribe reads owner's stream from the beginning and then blocks for new
// entries until ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, owner string) (<-chan Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(chan Delivery, redisReadCount)
	go r.readLoop(ctx, owner, out)
	return out, nil
}

func (r *RedisRelay) readLoop(ctx context.Context, owner string, out chan<- Delivery) {
	defer close(out)

	stream := r.stream(owner)
	last := "0"

	for {
		res, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, last},
			Count:   redisReadCount,
			Block:   redisBlock,
		}).Result()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				util.LogWarning("relay: XREAD %s failed: %v", stream, err)
				select {
				case <-time.After(redisRetryDelay):
				case <-ctx.Done():
					return
				}
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				last = msg.ID

				env, err := decodeStreamEntry(msg)
				if err != nil {
					// Undecodable entries would be replayed forever; drop them.
					util.LogWarning("relay: dropping entry %s in %s: %v", msg.ID, stream, err)
					r.rdb.XDel(ctx, stream, msg.ID)
					continue
				}

				select {
				case out <- Delivery{Key: msg.ID, Envelope: env, Arrived: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func decodeStreamEntry(msg redis.XMessage) (*protocol.Envelope, error) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q field", protocol.ErrInvalidEnvelope, envelopeField)
	}
	return protocol.DecodeEnvelope([]byte(raw))
}

// Ack deletes an entry from owner's stream.
func (r *RedisRelay) Ack(ctx context.Context, owner, key string) error {
	return r.rdb.XDel(ctx, r.stream(owner), key).Err()
}
