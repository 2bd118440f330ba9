package sdk

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. The SDK never reads the wall clock
// directly so tests can substitute a deterministic implementation.
//
// Example:
//
//	type frozenClock struct{ at time.Time }
//
//	func (c frozenClock) Now() time.Time { return c.at }
//
//	config := sdk.DefaultConfig().WithClock(frozenClock{at: someTime})
type Clock interface {
	// Now returns the current time
	Now() time.Time
}

// systemClock reads the wall clock
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// IDSource generates unique identifiers. The default implementation is
// backed by random UUIDs; tests can substitute a fixed sequence.
type IDSource interface {
	// NewID returns a new unique identifier
	NewID() string
}

// uuidSource generates random UUIDs
type uuidSource struct{}

func (uuidSource) NewID() string { return uuid.NewString() }

// UUIDSource returns an IDSource backed by random UUIDs.
func UUIDSource() IDSource { return uuidSource{} }

// shortHex returns the first n hex characters of a fresh identifier.
// Used for the session id suffix.
func shortHex(ids IDSource, n int) string {
	h := strings.ReplaceAll(ids.NewID(), "-", "")
	if len(h) < n {
		return h
	}
	return h[:n]
}

// epochMillis converts a time to milliseconds since the Unix epoch.
func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
