package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed creates a random seed for sampling decisions such as the
// heartbeat eviction's segment picks.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fallback with the current time, only as a last resort.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
