// Package sha256 derives hex SHA-256 digests used as request correlation identifiers.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Hasher computes hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CorrelationID digests payload followed by the decimal nanosecond timestamp of at, so the
// same payload sent twice yields different identifiers.
func (h Hasher) CorrelationID(payload []byte, at time.Time) string {
	buf := make([]byte, 0, len(payload)+20)
	buf = append(buf, payload...)
	buf = strconv.AppendInt(buf, at.UnixNano(), 10)
	return h.Hash(buf)
}
