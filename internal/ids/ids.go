package ids

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier for storage keys.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
