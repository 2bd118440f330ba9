package sdk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seqIDs hands out a deterministic sequence of hex identifiers.
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%08x", s.n)
}

// rotationRecorder captures the reason of the last session rotation.
type rotationRecorder struct {
	NoopObserver
	mu         sync.Mutex
	lastReason RotationReason
}

func (r *rotationRecorder) OnSessionRotated(oldID, newID string, reason RotationReason) {
	r.mu.Lock()
	r.lastReason = reason
	r.mu.Unlock()
}

func (r *rotationRecorder) reason() RotationReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReason
}

// fakeTransport is a scripted Transport. Responses are set by tests;
// every call is counted and recorded.
type fakeTransport struct {
	mu sync.Mutex

	metaResp ResponseMetadata
	metaErr  error

	fullMeta ResponseMetadata
	fullBody []byte
	fullErr  error

	postResp []byte
	postErr  error

	metaCalls int
	fullCalls int
	postCalls int

	postURLs   []string
	postBodies [][]byte

	lastETag         string
	lastLastModified string
}

func (t *fakeTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.postCalls++
	t.postURLs = append(t.postURLs, url)
	t.postBodies = append(t.postBodies, append([]byte(nil), body...))
	return t.postResp, t.postErr
}

func (t *fakeTransport) FetchMetadata(ctx context.Context, url string) (ResponseMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metaCalls++
	return t.metaResp, t.metaErr
}

func (t *fakeTransport) FetchFull(ctx context.Context, url string, etag, lastModified string) (ResponseMetadata, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fullCalls++
	t.lastETag = etag
	t.lastLastModified = lastModified
	return t.fullMeta, t.fullBody, t.fullErr
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) calls() (meta, full, post int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metaCalls, t.fullCalls, t.postCalls
}

func (t *fakeTransport) setDocument(body []byte, meta ResponseMetadata) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metaResp = meta
	t.metaErr = nil
	t.fullMeta = meta
	t.fullBody = body
	t.fullErr = nil
}

func (t *fakeTransport) postsTo(substr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.postURLs {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

// settingsDoc builds a settings document body with full metadata for each
// key -> raw JSON value pair.
func settingsDoc(values map[string]string) []byte {
	var b strings.Builder
	b.WriteString(`{"configs":{`)
	first := true
	for key, raw := range values {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b,
			`%q:{"variation":%s,"experience_id":"exp_%s","config_id":"cfg_%s","variation_id":"var_%s","version":"1"}`,
			key, raw, key, key, key)
	}
	b.WriteString(`}}`)
	return []byte(b.String())
}
