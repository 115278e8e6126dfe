package utils

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewTimeOrderedID returns a UUIDv7. Used for message ids and queue message ids,
// so the natural order of ids is their creation order.
func NewTimeOrderedID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAuditID returns a ULID for at. IDs created within the same millisecond stay ordered.
func NewAuditID(at time.Time) (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), monoEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
