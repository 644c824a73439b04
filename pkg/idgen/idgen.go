package idgen

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// EventID returns a lexicographically sortable ULID used for outbound events.
func EventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
