package chat

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a fresh ULID. Lexicographic order follows creation
// time, which keeps recency sorts cheap.
func NewSessionID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
