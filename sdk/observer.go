package sdk

import (
	"sync"
	"time"
)

// Observer provides hooks for monitoring SDK operations.
// Implement this interface to track performance metrics, debug issues,
// or integrate with your observability stack.
//
// Observer methods are called at key points during operation execution and
// should be fast and non-blocking.
//
// Example implementation:
//
//	type LogObserver struct {
//	    logger *log.Logger
//	}
//
//	func (o *LogObserver) OnRequestEnd(method, url string, d time.Duration, err error) {
//	    if err != nil {
//	        o.logger.Printf("[ERROR] %s %s - %v (took %v)", method, url, err, d)
//	    }
//	}
//
//	config := sdk.DefaultConfig().WithObserver(&LogObserver{logger: log.Default()})
type Observer interface {
	// OnRequestStart is called when an HTTP request starts.
	OnRequestStart(method, url string)

	// OnRequestEnd is called when an HTTP request completes.
	// err is nil on success.
	OnRequestEnd(method, url string, duration time.Duration, err error)

	// OnRetryAttempt is called before each retry attempt sleeps.
	//
	// Parameters:
	//   - operation: logical operation name (e.g. "settings_check")
	//   - attempt: attempt number that just failed (1, 2, 3...)
	//   - delay: backoff delay before the next attempt
	//   - err: the error that triggered the retry
	OnRetryAttempt(operation string, attempt int, delay time.Duration, err error)

	// OnCircuitBreakerStateChange is called when a breaker changes state.
	OnCircuitBreakerStateChange(name string, oldState, newState CircuitState)

	// OnCacheHit is called when a cache key is found.
	OnCacheHit(key string)

	// OnCacheMiss is called when a cache key is not found or expired.
	OnCacheMiss(key string)

	// OnSettingsCheck is called at the end of every settings check cycle.
	// changed reports whether the config snapshot was replaced; err is the
	// swallowed cycle error, nil on success or no-op.
	OnSettingsCheck(changed bool, err error)

	// OnQueueFlush is called after a flush attempt drains a batch.
	// count is the number of items in the batch; err is nil on success.
	OnQueueFlush(kind string, count int, err error)

	// OnItemsDropped is called when queue items are evicted or lost.
	OnItemsDropped(kind string, count int)

	// OnSessionRotated is called after the session id is replaced.
	OnSessionRotated(oldID, newID string, reason RotationReason)
}

// NoopObserver is a no-op implementation of Observer. It is the default
// observer used when none is configured and has zero overhead.
type NoopObserver struct{}

// OnRequestStart does nothing
func (n *NoopObserver) OnRequestStart(method, url string) {}

// OnRequestEnd does nothing
func (n *NoopObserver) OnRequestEnd(method, url string, duration time.Duration, err error) {}

// OnRetryAttempt does nothing
func (n *NoopObserver) OnRetryAttempt(operation string, attempt int, delay time.Duration, err error) {
}

// OnCircuitBreakerStateChange does nothing
func (n *NoopObserver) OnCircuitBreakerStateChange(name string, oldState, newState CircuitState) {}

// OnCacheHit does nothing
func (n *NoopObserver) OnCacheHit(key string) {}

// OnCacheMiss does nothing
func (n *NoopObserver) OnCacheMiss(key string) {}

// OnSettingsCheck does nothing
func (n *NoopObserver) OnSettingsCheck(changed bool, err error) {}

// OnQueueFlush does nothing
func (n *NoopObserver) OnQueueFlush(kind string, count int, err error) {}

// OnItemsDropped does nothing
func (n *NoopObserver) OnItemsDropped(kind string, count int) {}

// OnSessionRotated does nothing
func (n *NoopObserver) OnSessionRotated(oldID, newID string, reason RotationReason) {}

// MetricsCollector is a simple in-memory Observer implementation that
// counts requests, errors, retries, flushes and cache hits. It is intended
// for debugging and tests; production integrations should implement
// Observer against their own monitoring system.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	config := sdk.DefaultConfig().WithObserver(metrics)
//
//	// ... use the client ...
//
//	snapshot := metrics.Snapshot()
//	fmt.Printf("requests: %d, retries: %d\n", snapshot.Requests, snapshot.Retries)
type MetricsCollector struct {
	mu             sync.Mutex
	requests       int64
	requestErrors  int64
	retries        int64
	breakerChanges int64
	cacheHits      int64
	cacheMisses    int64
	settingsChecks int64
	settingsChange int64
	flushes        int64
	flushErrors    int64
	itemsFlushed   int64
	itemsDropped   int64
	rotations      int64
}

// Metrics is a point-in-time copy of the collector's counters.
type Metrics struct {
	Requests         int64
	RequestErrors    int64
	Retries          int64
	BreakerChanges   int64
	CacheHits        int64
	CacheMisses      int64
	SettingsChecks   int64
	SettingsChanged  int64
	Flushes          int64
	FlushErrors      int64
	ItemsFlushed     int64
	ItemsDropped     int64
	SessionRotations int64
}

// NewMetricsCollector creates a new thread-safe metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// OnRequestStart increments the request counter
func (m *MetricsCollector) OnRequestStart(method, url string) {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
}

// OnRequestEnd records request errors
func (m *MetricsCollector) OnRequestEnd(method, url string, duration time.Duration, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.requestErrors++
	m.mu.Unlock()
}

// OnRetryAttempt increments the retry counter
func (m *MetricsCollector) OnRetryAttempt(operation string, attempt int, delay time.Duration, err error) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

// OnCircuitBreakerStateChange counts state changes
func (m *MetricsCollector) OnCircuitBreakerStateChange(name string, oldState, newState CircuitState) {
	m.mu.Lock()
	m.breakerChanges++
	m.mu.Unlock()
}

// OnCacheHit increments the hit counter
func (m *MetricsCollector) OnCacheHit(key string) {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

// OnCacheMiss increments the miss counter
func (m *MetricsCollector) OnCacheMiss(key string) {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

// OnSettingsCheck counts cycles and applied changes
func (m *MetricsCollector) OnSettingsCheck(changed bool, err error) {
	m.mu.Lock()
	m.settingsChecks++
	if changed {
		m.settingsChange++
	}
	m.mu.Unlock()
}

// OnQueueFlush counts flushes and flushed items
func (m *MetricsCollector) OnQueueFlush(kind string, count int, err error) {
	m.mu.Lock()
	m.flushes++
	if err != nil {
		m.flushErrors++
	} else {
		m.itemsFlushed += int64(count)
	}
	m.mu.Unlock()
}

// OnItemsDropped counts dropped items
func (m *MetricsCollector) OnItemsDropped(kind string, count int) {
	m.mu.Lock()
	m.itemsDropped += int64(count)
	m.mu.Unlock()
}

// OnSessionRotated counts rotations
func (m *MetricsCollector) OnSessionRotated(oldID, newID string, reason RotationReason) {
	m.mu.Lock()
	m.rotations++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *MetricsCollector) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		Requests:         m.requests,
		RequestErrors:    m.requestErrors,
		Retries:          m.retries,
		BreakerChanges:   m.breakerChanges,
		CacheHits:        m.cacheHits,
		CacheMisses:      m.cacheMisses,
		SettingsChecks:   m.settingsChecks,
		SettingsChanged:  m.settingsChange,
		Flushes:          m.flushes,
		FlushErrors:      m.flushErrors,
		ItemsFlushed:     m.itemsFlushed,
		ItemsDropped:     m.itemsDropped,
		SessionRotations: m.rotations,
	}
}

// CompositeObserver fans observer callbacks out to multiple observers.
// A panicking observer is recovered so it cannot affect the others.
//
// Example:
//
//	observer := sdk.NewCompositeObserver(
//	    sdk.NewMetricsCollector(),
//	    sdk.NewLogrusObserver(logger),
//	)
//	config := sdk.DefaultConfig().WithObserver(observer)
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an observer that delegates to multiple observers.
func NewCompositeObserver(observers ...Observer) Observer {
	return &CompositeObserver{observers: observers}
}

func (c *CompositeObserver) each(fn func(Observer)) {
	for _, obs := range c.observers {
		func() {
			defer func() {
				recover() // one faulty observer must not break the others
			}()
			fn(obs)
		}()
	}
}

// OnRequestStart notifies all observers
func (c *CompositeObserver) OnRequestStart(method, url string) {
	c.each(func(o Observer) { o.OnRequestStart(method, url) })
}

// OnRequestEnd notifies all observers
func (c *CompositeObserver) OnRequestEnd(method, url string, duration time.Duration, err error) {
	c.each(func(o Observer) { o.OnRequestEnd(method, url, duration, err) })
}

// OnRetryAttempt notifies all observers
func (c *CompositeObserver) OnRetryAttempt(operation string, attempt int, delay time.Duration, err error) {
	c.each(func(o Observer) { o.OnRetryAttempt(operation, attempt, delay, err) })
}

// OnCircuitBreakerStateChange notifies all observers
func (c *CompositeObserver) OnCircuitBreakerStateChange(name string, oldState, newState CircuitState) {
	c.each(func(o Observer) { o.OnCircuitBreakerStateChange(name, oldState, newState) })
}

// OnCacheHit notifies all observers
func (c *CompositeObserver) OnCacheHit(key string) {
	c.each(func(o Observer) { o.OnCacheHit(key) })
}

// OnCacheMiss notifies all observers
func (c *CompositeObserver) OnCacheMiss(key string) {
	c.each(func(o Observer) { o.OnCacheMiss(key) })
}

// OnSettingsCheck notifies all observers
func (c *CompositeObserver) OnSettingsCheck(changed bool, err error) {
	c.each(func(o Observer) { o.OnSettingsCheck(changed, err) })
}

// OnQueueFlush notifies all observers
func (c *CompositeObserver) OnQueueFlush(kind string, count int, err error) {
	c.each(func(o Observer) { o.OnQueueFlush(kind, count, err) })
}

// OnItemsDropped notifies all observers
func (c *CompositeObserver) OnItemsDropped(kind string, count int) {
	c.each(func(o Observer) { o.OnItemsDropped(kind, count) })
}

// OnSessionRotated notifies all observers
func (c *CompositeObserver) OnSessionRotated(oldID, newID string, reason RotationReason) {
	c.each(func(o Observer) { o.OnSessionRotated(oldID, newID, reason) })
}
