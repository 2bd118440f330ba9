package sdk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// FlagChangeListener observes value changes of a single flag key. A key
// removed from the remote document is delivered with a zero-value entry.
type FlagChangeListener func(key string, entry ConfigEntry)

// ChangeListener observes every settings change with the list of keys
// whose value differs from the previous snapshot.
type ChangeListener func(changedKeys []string)

const (
	settingsCacheKey        = "settings.document"
	settingsETagKey         = "settings.etag"
	settingsLastModifiedKey = "settings.last_modified"
)

// settingsSynchronizer owns the flag snapshot and the fetch cycle that
// keeps it current. The cycle is single-flight: overlapping triggers
// (timer tick, foreground signal, forced refresh) collapse into one
// in-flight check. The fetch is conditional: a cheap metadata probe first,
// then a full fetch only when the validators moved.
//
// The installed snapshot is immutable and swapped by one atomic pointer
// assignment, so flag reads never block behind a sync.
type settingsSynchronizer struct {
	url      string
	timeout  time.Duration
	cacheTTL time.Duration

	transport Transport
	cache     *TTLCache
	store     Store
	breaker   CircuitBreaker
	retry     *retryExecutor
	clock     Clock
	observer  Observer

	checking atomic.Bool
	disabled atomic.Bool
	snapshot atomic.Pointer[ConfigSnapshot]

	// forceFull skips the probe and conditional headers on the next cycle.
	forceFull atomic.Bool

	listenerMu      sync.Mutex
	flagListeners   map[string]*listenerRegistry[FlagChangeListener]
	changeListeners *listenerRegistry[ChangeListener]
}

// newSettingsSynchronizer wires the synchronizer and hydrates the snapshot
// from the durable cache so flags are readable before the first network
// round trip.
func newSettingsSynchronizer(
	url string,
	timeout time.Duration,
	cacheTTL time.Duration,
	transport Transport,
	cache *TTLCache,
	store Store,
	breaker CircuitBreaker,
	retry *retryExecutor,
	clock Clock,
	observer Observer,
) *settingsSynchronizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock()
	}
	if observer == nil {
		observer = &NoopObserver{}
	}

	s := &settingsSynchronizer{
		url:             url,
		timeout:         timeout,
		cacheTTL:        cacheTTL,
		transport:       transport,
		cache:           cache,
		store:           store,
		breaker:         breaker,
		retry:           retry,
		clock:           clock,
		observer:        observer,
		flagListeners:   map[string]*listenerRegistry[FlagChangeListener]{},
		changeListeners: newListenerRegistry[ChangeListener](),
	}
	s.snapshot.Store(emptySnapshot())
	s.hydrate()
	return s
}

// hydrate installs the last persisted settings document, if any. Expired
// cache entries are still used; stale flags beat no flags while offline.
// A corrupt record is cleared instead of surfaced.
func (s *settingsSynchronizer) hydrate() {
	if s.cache == nil {
		return
	}
	body, ok := s.cache.Get(settingsCacheKey, true)
	if !ok {
		return
	}

	doc, err := parseSettingsDocument(body)
	if err != nil {
		s.cache.Remove(settingsCacheKey)
		return
	}

	snap := &ConfigSnapshot{
		Entries:   doc.entries,
		FetchedAt: s.clock.Now(),
	}
	if s.store != nil {
		if etag, found, err := s.store.GetString(settingsETagKey); err == nil && found {
			snap.ETag = etag
		}
		if lm, found, err := s.store.GetString(settingsLastModifiedKey); err == nil && found {
			snap.LastModified = lm
		}
	}

	s.disabled.Store(!doc.enabled)
	s.snapshot.Store(snap)
}

// Check runs one settings sync cycle. Overlapping calls collapse: when a
// cycle is already in flight the call returns immediately with no error.
// Returns whether the installed snapshot changed.
func (s *settingsSynchronizer) Check(ctx context.Context) (bool, error) {
	if !s.checking.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.checking.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var changed bool
	err := s.breaker.ExecuteWithFallback(
		func() error {
			return s.retry.Execute(ctx, "settings_fetch", func() error {
				var syncErr error
				changed, syncErr = s.sync(ctx)
				return syncErr
			}, RetryUnlessCancelled)
		},
		// Open circuit: skip the cycle quietly and try again next tick.
		func() error { return nil },
	)

	s.observer.OnSettingsCheck(changed, err)
	return changed, err
}

// ForceRefresh discards the stored validators and runs an unconditional
// fetch, installing whatever the remote returns.
func (s *settingsSynchronizer) ForceRefresh(ctx context.Context) (bool, error) {
	s.forceFull.Store(true)
	return s.Check(ctx)
}

// sync performs one fetch cycle against the settings endpoint.
func (s *settingsSynchronizer) sync(ctx context.Context) (bool, error) {
	current := s.snapshot.Load()

	etag, lastModified := current.ETag, current.LastModified
	if s.forceFull.Swap(false) {
		etag, lastModified = "", ""
	}

	// Probe first when we hold validators. A probe that matches means the
	// document did not move and the cycle ends without a body transfer. A
	// probe with no validators at all leaves nothing to compare, so the
	// cycle ends too rather than re-downloading on every tick.
	if etag != "" || lastModified != "" {
		meta, err := s.transport.FetchMetadata(ctx, s.url)
		if err != nil {
			return false, err
		}
		if meta.empty() {
			return false, nil
		}
		if meta.ETag == etag && meta.LastModified == lastModified {
			return false, nil
		}
	}

	meta, body, err := s.transport.FetchFull(ctx, s.url, etag, lastModified)
	if err != nil {
		return false, err
	}

	if body == nil {
		// 304: the document is unchanged but the validators may have been
		// reissued. Keep them current for the next conditional request.
		s.persistValidators(meta)
		if meta.ETag != "" || meta.LastModified != "" {
			next := *current
			next.ETag = meta.ETag
			next.LastModified = meta.LastModified
			s.snapshot.Store(&next)
		}
		return false, nil
	}

	doc, err := parseSettingsDocument(body)
	if err != nil {
		return false, err
	}

	s.disabled.Store(!doc.enabled)

	next := &ConfigSnapshot{
		Entries:      doc.entries,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		FetchedAt:    s.clock.Now(),
	}
	s.snapshot.Store(next)
	s.persist(body, meta)

	changedKeys := diffChangedKeys(current.Entries, next.Entries)
	// Listeners are muted while the account is disabled; the snapshot is
	// still installed so reads recover the moment the remote re-enables.
	if len(changedKeys) > 0 && !s.disabled.Load() {
		s.notify(changedKeys, next)
	}
	return len(changedKeys) > 0, nil
}

// persist writes the document body and validators to durable storage.
func (s *settingsSynchronizer) persist(body []byte, meta ResponseMetadata) {
	if s.cache != nil {
		s.cache.Put(settingsCacheKey, body, s.cacheTTL, true)
	}
	s.persistValidators(meta)
}

func (s *settingsSynchronizer) persistValidators(meta ResponseMetadata) {
	if s.store == nil || meta.empty() {
		return
	}
	s.store.SetString(settingsETagKey, meta.ETag)
	s.store.SetString(settingsLastModifiedKey, meta.LastModified)
}

// notify delivers change notifications outside any lock. Per-key listeners
// for removed keys receive a zero-value entry carrying only the key.
func (s *settingsSynchronizer) notify(changedKeys []string, snap *ConfigSnapshot) {
	for _, key := range changedKeys {
		entry, ok := snap.Entries[key]
		if !ok {
			entry = ConfigEntry{Key: key}
		}
		for _, l := range s.flagListenersFor(key) {
			l(key, entry)
		}
	}
	for _, l := range s.changeListeners.snapshot() {
		l(changedKeys)
	}
}

func (s *settingsSynchronizer) flagListenersFor(key string) []FlagChangeListener {
	s.listenerMu.Lock()
	reg, ok := s.flagListeners[key]
	s.listenerMu.Unlock()
	if !ok {
		return nil
	}
	return reg.snapshot()
}

// AddFlagListener registers a listener for one flag key.
func (s *settingsSynchronizer) AddFlagListener(key string, l FlagChangeListener) Subscription {
	s.listenerMu.Lock()
	reg, ok := s.flagListeners[key]
	if !ok {
		reg = newListenerRegistry[FlagChangeListener]()
		s.flagListeners[key] = reg
	}
	s.listenerMu.Unlock()
	return reg.add(l)
}

// AddChangeListener registers a listener for every settings change.
func (s *settingsSynchronizer) AddChangeListener(l ChangeListener) Subscription {
	return s.changeListeners.add(l)
}

// Entry returns the current entry for key. Misses and reads while the
// account is disabled return ok=false.
func (s *settingsSynchronizer) Entry(key string) (ConfigEntry, bool) {
	if s.disabled.Load() {
		return ConfigEntry{}, false
	}
	entry, ok := s.snapshot.Load().Entries[key]
	return entry, ok
}

// Snapshot returns the currently installed snapshot.
func (s *settingsSynchronizer) Snapshot() *ConfigSnapshot {
	return s.snapshot.Load()
}

// Disabled reports whether the remote flagged this account as disabled.
func (s *settingsSynchronizer) Disabled() bool {
	return s.disabled.Load()
}
