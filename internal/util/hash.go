// Package util provides shared utility functions.
package util

import "hash/fnv"

// SessionTag computes a 4-byte hash of a session nonce. It is only used to
// prefix log lines ("[%08x]") so that interleaved sessions stay readable.
func SessionTag(nonce string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(nonce))
	return h.Sum32()
}
