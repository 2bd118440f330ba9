package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSynchronizer(tr Transport, clock Clock, store *MemoryStore) *settingsSynchronizer {
	cache := NewTTLCache(DefaultCacheConfig(), store, store, clock, nil)
	return newSettingsSynchronizer(
		"http://api.test/v1/settings/ck_test",
		time.Second,
		24*time.Hour,
		tr,
		cache,
		store,
		NewNoopCircuitBreaker(),
		newRetryExecutor(fastBackoff(1), nil),
		clock,
		nil,
	)
}

func TestSettingsSynchronizer(t *testing.T) {
	t.Run("initial check installs the snapshot", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())

		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)

		entry, ok := syn.Entry("hero_text")
		require.True(t, ok)
		s, ok := entry.Variation.String()
		require.True(t, ok)
		assert.Equal(t, "Hi", s)

		meta, full, _ := tr.calls()
		assert.Equal(t, 0, meta, "no probe without stored validators")
		assert.Equal(t, 1, full)
	})

	t.Run("matching probe skips the full fetch", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)

		meta, full, _ := tr.calls()
		assert.Equal(t, 1, meta)
		assert.Equal(t, 1, full, "full fetch not repeated for an unchanged document")
	})

	t.Run("probe without validators ends the cycle", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		tr.mu.Lock()
		tr.metaResp = ResponseMetadata{}
		tr.mu.Unlock()

		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
		_, full, _ := tr.calls()
		assert.Equal(t, 1, full)
	})

	t.Run("moved validators trigger a refetch and notify listeners", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		var mu sync.Mutex
		var gotKey, gotValue string
		syn.AddFlagListener("hero_text", func(key string, entry ConfigEntry) {
			mu.Lock()
			defer mu.Unlock()
			gotKey = key
			gotValue, _ = entry.Variation.String()
		})

		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hello"`}), ResponseMetadata{ETag: "v2"})
		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "hero_text", gotKey)
		assert.Equal(t, "Hello", gotValue)
	})

	t.Run("not modified keeps entries and adopts new validators", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		tr.mu.Lock()
		tr.metaResp = ResponseMetadata{ETag: "v2"}
		tr.fullMeta = ResponseMetadata{ETag: "v2"}
		tr.fullBody = nil
		tr.mu.Unlock()

		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)

		_, ok := syn.Entry("hero_text")
		assert.True(t, ok)
		assert.Equal(t, "v2", syn.Snapshot().ETag)
	})

	t.Run("malformed document is an error and keeps the old snapshot", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		tr.setDocument([]byte("{broken"), ResponseMetadata{ETag: "v2"})
		_, err := syn.Check(context.Background())
		require.Error(t, err)

		entry, ok := syn.Entry("hero_text")
		require.True(t, ok)
		s, _ := entry.Variation.String()
		assert.Equal(t, "Hi", s)
	})

	t.Run("disabled account gates reads", func(t *testing.T) {
		tr := &fakeTransport{}
		body := []byte(`{"cf_account_enabled":false,"configs":{"hero_text":{"variation":"\"Hi\""}}}`)
		tr.setDocument(body, ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		assert.True(t, syn.Disabled())
		_, ok := syn.Entry("hero_text")
		assert.False(t, ok)
	})

	t.Run("listeners are muted while disabled", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		var mu sync.Mutex
		flagCalls, changeCalls := 0, 0
		syn.AddFlagListener("hero_text", func(key string, entry ConfigEntry) {
			mu.Lock()
			flagCalls++
			mu.Unlock()
		})
		syn.AddChangeListener(func(changedKeys []string) {
			mu.Lock()
			changeCalls++
			mu.Unlock()
		})

		// The value changes in the same document that disables the account.
		disabled := []byte(`{"cf_account_enabled":false,"configs":{` +
			`"hero_text":{"variation":"\"Hello\"","experience_id":"e","config_id":"c","variation_id":"v","version":"1"}}}`)
		tr.setDocument(disabled, ResponseMetadata{ETag: "v2"})
		_, err := syn.Check(context.Background())
		require.NoError(t, err)
		require.True(t, syn.Disabled())

		mu.Lock()
		assert.Equal(t, 0, flagCalls, "per-key listener muted while disabled")
		assert.Equal(t, 0, changeCalls, "all-flags listener muted while disabled")
		mu.Unlock()

		// Re-enabling resumes notifications on the next change.
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Howdy"`}), ResponseMetadata{ETag: "v3"})
		_, err = syn.Check(context.Background())
		require.NoError(t, err)
		require.False(t, syn.Disabled())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, flagCalls)
		assert.Equal(t, 1, changeCalls)
	})

	t.Run("force refresh sends no conditional headers", func(t *testing.T) {
		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())
		syn.Check(context.Background())

		_, err := syn.ForceRefresh(context.Background())
		require.NoError(t, err)

		tr.mu.Lock()
		defer tr.mu.Unlock()
		assert.Equal(t, 2, tr.fullCalls)
		assert.Empty(t, tr.lastETag)
		assert.Empty(t, tr.lastLastModified)
	})

	t.Run("overlapping checks collapse into one", func(t *testing.T) {
		release := make(chan struct{})
		tr := &blockingTransport{release: release, entered: make(chan struct{})}
		syn := newTestSynchronizer(tr, newFakeClock(), NewMemoryStore())

		done := make(chan struct{})
		go func() {
			syn.Check(context.Background())
			close(done)
		}()

		// Wait for the first check to enter the transport.
		<-tr.entered

		changed, err := syn.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, changed, "second check is a no-op while one is in flight")

		close(release)
		<-done
		assert.Equal(t, 1, tr.calls)
	})
}

func TestSettingsHydration(t *testing.T) {
	t.Run("snapshot is restored from the durable cache", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		tr := &fakeTransport{}
		tr.setDocument(settingsDoc(map[string]string{"hero_text": `"Hi"`}), ResponseMetadata{ETag: "v1"})
		first := newTestSynchronizer(tr, clock, store)
		first.Check(context.Background())

		// A fresh synchronizer with a dead transport serves from storage.
		dead := &fakeTransport{fullErr: NewError(ErrorTypeNetwork, "offline", nil)}
		second := newTestSynchronizer(dead, clock, store)

		entry, ok := second.Entry("hero_text")
		require.True(t, ok)
		s, _ := entry.Variation.String()
		assert.Equal(t, "Hi", s)
		assert.Equal(t, "v1", second.Snapshot().ETag, "validators restored for conditional requests")

		meta, full, post := dead.calls()
		assert.Zero(t, meta+full+post, "no network traffic for hydrated reads")
	})

	t.Run("corrupt cached document is cleared", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		cache := NewTTLCache(DefaultCacheConfig(), store, store, clock, nil)
		cache.Put(settingsCacheKey, []byte("{broken"), time.Hour, true)

		syn := newTestSynchronizer(&fakeTransport{}, clock, store)
		_, ok := syn.Entry("hero_text")
		assert.False(t, ok)

		fresh := NewTTLCache(DefaultCacheConfig(), store, store, clock, nil)
		_, found := fresh.Get(settingsCacheKey, true)
		assert.False(t, found, "corrupt record removed from storage")
	})
}

// blockingTransport parks FetchFull until released, for single-flight tests.
type blockingTransport struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
	calls   int
}

func (b *blockingTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return nil, nil
}

func (b *blockingTransport) FetchMetadata(ctx context.Context, url string) (ResponseMetadata, error) {
	return ResponseMetadata{}, nil
}

func (b *blockingTransport) FetchFull(ctx context.Context, url string, etag, lastModified string) (ResponseMetadata, []byte, error) {
	b.calls++
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return ResponseMetadata{ETag: "v1"}, settingsDoc(map[string]string{"hero_text": `"Hi"`}), nil
}

func (b *blockingTransport) Close() error { return nil }
