package relay

import (
	"fmt"
	"sync/atomic"
)

// SeqGen is an atomic sequence generator for push keys.
// Keys sort lexicographically in push order, like the realtime database's
// push ids.
type SeqGen struct {
	val atomic.Uint64
}

// Next returns the next sequence number (monotonically increasing from 1).
func (s *SeqGen) Next() uint64 {
	return s.val.Add(1)
}

// NextKey returns the next sequence number formatted as a fixed-width key.
func (s *SeqGen) NextKey() string {
	return fmt.Sprintf("%016x", s.Next())
}
