// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// retryNamespace scopes name-based retry keys.
var retryNamespace = uuid.MustParse("6f1d3c2e-8a4b-5d7e-9f10-2b3c4d5e6f70")

// Generator creates request IDs and retry keys.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RetryKey returns a name-based (v5) UUID over payload and the nanosecond timestamp of at.
// Identical content at the same instant yields the same key.
func (Generator) RetryKey(payload []byte, at time.Time) string {
	name := make([]byte, 0, len(payload)+21)
	name = append(name, payload...)
	name = append(name, '|')
	name = strconv.AppendInt(name, at.UnixNano(), 10)
	return uuid.NewSHA1(retryNamespace, name).String()
}
