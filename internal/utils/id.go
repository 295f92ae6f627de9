package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

var connSeq atomic.Uint64

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// NewConnID returns an identifier for an accepted connection: the transport
// name, a process-wide sequence number, and a random suffix, e.g.
// "tcp-17-3f9a1c2b".
func NewConnID(transport string) string {
	n := connSeq.Add(1)
	return transport + "-" + strconv.FormatUint(n, 10) + "-" + NewID()[:8]
}
