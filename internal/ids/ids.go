package ids

import (
	mathrand "math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for
// client-generated record ids and storage object names.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewIdempotencyKey returns a random key attached to insert mutations so a
// retried request cannot create a duplicate row.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// ObjectName builds a collision-free storage path for an uploaded file,
// keeping the original extension so the backend can infer a content type.
func ObjectName(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	name := New()
	if ext != "" {
		name += ext
	}
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
