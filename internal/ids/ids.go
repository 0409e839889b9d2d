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

// New returns a lexicographically sortable identifier for rows created by this service
// (users, roles, lookup records).
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose time component is t (now when t is zero).
func NewAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the creation time encoded in id.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
