// Package ids generates the identifiers used for actors, markers and
// moderation entries. ULIDs sort by creation time, which keeps pending
// queues and audit trails naturally ordered.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns an identifier stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier stamped with the given time. Within one
// millisecond identifiers remain monotonically increasing.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
