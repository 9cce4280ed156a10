package cache

import (
	"encoding/json"
	"time"
)

// Entry is the last seen validator for one GET identity.
type Entry struct {
	// ETag as received, quotes included.
	ETag string `json:"etag"`

	// Body is the envelope-unwrapped response data.
	Body json.RawMessage `json:"body"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry copies body so later writes to the caller's buffer cannot leak
// into the store.
func NewEntry(etag string, body []byte) *Entry {
	b := make([]byte, len(body))
	copy(b, body)
	return &Entry{
		ETag:     etag,
		Body:     b,
		StoredAt: time.Now(),
	}
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return time.Since(e.StoredAt)
}
