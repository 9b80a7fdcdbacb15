// Package ids generates the opaque identifiers handed out by the server (socket sessions,
// conversations, request correlation).
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes keep ids of different kinds apart in logs.
const (
	PrefixSession      = "ses"
	PrefixConversation = "conv"
)

// NewULID returns a new ULID string (26 chars) stamped with now.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New returns "<prefix>_<ulid>" in lower case.
func New(prefix string, now time.Time) (string, error) {
	u, err := NewULID(now)
	if err != nil {
		return "", err
	}
	return prefix + "_" + strings.ToLower(u), nil
}

// MustNew is New for call sites that cannot recover from entropy failure.
func MustNew(prefix string) string {
	id, err := New(prefix, time.Now().UTC())
	if err != nil {
		panic(err)
	}
	return id
}

// HasPrefix reports whether id was built by New with prefix.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok || len(rest) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}
