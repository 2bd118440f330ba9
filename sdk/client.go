package sdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Client is the flag-nest SDK client. Flag reads are served from the
// in-process snapshot and never block on the network; everything
// network-facing runs in the background.
//
// A Client is safe for concurrent use. Create one per process and Close it
// on shutdown so pending analytics are delivered or persisted.
type Client interface {
	// GetValue returns the decoded value for key: bool, float64, string,
	// or json.RawMessage for structured values.
	GetValue(key string) (any, bool)

	// GetString returns the string value for key. ok is false when the key
	// is absent or the value is not a string.
	GetString(key string) (string, bool)

	// GetBool returns the boolean value for key.
	GetBool(key string) (bool, bool)

	// GetNumber returns the numeric value for key.
	GetNumber(key string) (float64, bool)

	// GetJSON unmarshals the raw value for key into out. Returns false
	// when the key is absent or the value does not decode into out.
	GetJSON(key string, out any) bool

	// GetEntry returns the full entry for key including its metadata.
	GetEntry(key string) (ConfigEntry, bool)

	// AllFlags returns a copy of the current flag map. Bulk inspection
	// does not record exposures.
	AllFlags() map[string]ConfigEntry

	// TrackEvent queues an analytics event for delivery. The returned
	// error reflects validation and enqueue only, not delivery.
	TrackEvent(name string, properties map[string]any) error

	// ForceRefresh discards the stored change validators and fetches the
	// settings document unconditionally.
	ForceRefresh(ctx context.Context) error

	// Flush delivers pending summaries and events immediately.
	Flush(ctx context.Context) error

	// AddFlagListener registers a listener for one flag key.
	AddFlagListener(key string, l FlagChangeListener) Subscription

	// AddChangeListener registers a listener for every settings change.
	AddChangeListener(l ChangeListener) Subscription

	// AddConnectionStatusListener registers a delivery health listener.
	AddConnectionStatusListener(l ConnectionStatusListener) Subscription

	// AddSessionRotationListener registers a session rotation listener.
	AddSessionRotationListener(l SessionRotationListener) Subscription

	// CurrentSessionID returns the active session id.
	CurrentSessionID() string

	// RotateSession starts a fresh session and returns the new id.
	RotateSession() string

	// SetNetworkConnected reports host network reachability. Coming back
	// online triggers a settings check and a queue flush in the
	// background; the call itself never blocks.
	SetNetworkConnected(connected bool)

	// NotifyAppForeground reports the app entering the foreground.
	NotifyAppForeground()

	// NotifyAppBackground reports the app entering the background.
	NotifyAppBackground()

	// NotifyAuthChange reports a change of the authenticated user,
	// rotating the session.
	NotifyAuthChange()

	// SetBatteryLow reports low battery; polling slows down while set.
	SetBatteryLow(low bool)

	// ConnectionStatus returns the current delivery health.
	ConnectionStatus() ConnectionStatus

	// Close stops background work, delivers or persists pending items and
	// releases resources. Close is idempotent.
	Close() error
}

// client is the default Client implementation
type client struct {
	config   Config
	observer Observer
	clock    Clock
	ids      IDSource

	transport     Transport
	ownsTransport bool

	store    Store
	cache    *TTLCache
	breakers *BreakerRegistry
	retry    *retryExecutor

	settings  *settingsSynchronizer
	sessions  *SessionManager
	events    *deliveryQueue[Event]
	summaries *deliveryQueue[Summary]

	conn    *connectivity
	tracker *connectionTracker

	pollTask    taskSlot
	eventTask   taskSlot
	summaryTask taskSlot
	sweepTask   taskSlot

	batteryLow atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
}

// NewClient creates and starts a client. The snapshot is hydrated from the
// configured store before NewClient returns, so flags cached by a previous
// run are readable immediately; the first network check runs in the
// background.
func NewClient(config Config) (Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	observer := config.Observer
	if config.Logger != nil {
		observer = NewCompositeObserver(observer, NewLogrusObserver(config.Logger))
	}

	blobs := config.Blobs
	if blobs == nil {
		if bs, ok := config.Store.(BlobStore); ok {
			blobs = bs
		}
	}

	transport := config.Transport
	ownsTransport := false
	if transport == nil {
		transport = NewHTTPTransport(config.TransportConfig, observer)
		ownsTransport = true
	}

	conn := newConnectivity()
	if config.Offline {
		conn.set(false)
	}

	c := &client{
		config:        config,
		observer:      observer,
		clock:         config.Clock,
		ids:           config.IDs,
		transport:     transport,
		ownsTransport: ownsTransport,
		store:         config.Store,
		breakers:      NewBreakerRegistry(config.Breaker, config.Clock, observer),
		retry:         newRetryExecutor(config.Backoff, observer),
		conn:          conn,
		tracker:       newConnectionTracker(),
	}

	c.cache = NewTTLCache(config.Cache, config.Store, blobs, config.Clock, observer)
	c.settings = newSettingsSynchronizer(
		config.settingsURL(),
		config.SettingsTimeout,
		config.CacheTTL,
		transport,
		c.cache,
		config.Store,
		c.breakers.Get("sdk_settings_fetch"),
		c.retry,
		config.Clock,
		observer,
	)
	c.sessions = NewSessionManager(config.Session, config.Clock, config.IDs, config.Store, observer)

	c.summaries = newDeliveryQueue("summaries", config.SummaryQueue, config.Clock, observer,
		conn, c.tracker, config.Store, validateSummary, summaryDedupKey, c.sendSummaries, nil)
	c.events = newDeliveryQueue("events", config.EventQueue, config.Clock, observer,
		conn, c.tracker, config.Store, validateEvent, nil, c.sendEvents, nil)
	c.summaries.loadSpill()
	c.events.loadSpill()

	c.startPollTask()
	c.eventTask.Replace(c.events.config.FlushInterval, func() {
		c.events.Flush(context.Background())
	})
	c.summaryTask.Replace(c.summaries.config.FlushInterval, func() {
		c.summaries.Flush(context.Background())
	})
	c.sweepTask.Replace(c.sweepInterval(), c.cache.Sweep)

	if conn.Online() {
		go c.settings.Check(context.Background())
	}
	return c, nil
}

// startPollTask (re)starts the settings poll timer at the current
// effective interval.
func (c *client) startPollTask() {
	c.pollTask.Replace(c.pollInterval(), func() {
		if c.conn.Online() {
			c.settings.Check(context.Background())
		}
	})
}

// pollInterval is the configured interval, doubled while the host reports
// low battery.
func (c *client) pollInterval() time.Duration {
	interval := c.config.PollInterval
	if c.batteryLow.Load() {
		interval *= 2
	}
	return interval
}

func (c *client) sweepInterval() time.Duration {
	if c.config.Cache.SweepInterval > 0 {
		return c.config.Cache.SweepInterval
	}
	return 10 * time.Minute
}

// sendSummaries delivers one summary batch.
func (c *client) sendSummaries(ctx context.Context, batch []Summary) error {
	payload, err := marshalSummariesPayload(batch, c.config.User)
	if err != nil {
		return err
	}
	return c.breakers.Get("sdk_summaries_send").Execute(func() error {
		return c.retry.Execute(ctx, "summaries_send", func() error {
			_, err := c.transport.Post(ctx, c.config.summariesURL(), payload)
			return err
		}, RetryUnlessCancelled)
	})
}

// sendEvents delivers one event batch. Pending summaries are flushed first
// so exposures reach the backend before the events referencing them.
func (c *client) sendEvents(ctx context.Context, batch []Event) error {
	c.summaries.Flush(ctx)

	payload, err := marshalEventsPayload(batch, c.config.User)
	if err != nil {
		return err
	}
	return c.breakers.Get("sdk_events_send").Execute(func() error {
		return c.retry.Execute(ctx, "events_send", func() error {
			_, err := c.transport.Post(ctx, c.config.eventsURL(), payload)
			return err
		}, RetryUnlessCancelled)
	})
}

// GetValue returns the decoded value for key
func (c *client) GetValue(key string) (any, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Variation.Value(), true
}

// GetString returns the string value for key
func (c *client) GetString(key string) (string, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return "", false
	}
	return entry.Variation.String()
}

// GetBool returns the boolean value for key
func (c *client) GetBool(key string) (bool, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return false, false
	}
	return entry.Variation.Bool()
}

// GetNumber returns the numeric value for key
func (c *client) GetNumber(key string) (float64, bool) {
	entry, ok := c.GetEntry(key)
	if !ok {
		return 0, false
	}
	return entry.Variation.Number()
}

// GetJSON unmarshals the raw value for key into out
func (c *client) GetJSON(key string, out any) bool {
	entry, ok := c.GetEntry(key)
	if !ok {
		return false
	}
	return json.Unmarshal(entry.Variation.JSON(), out) == nil
}

// GetEntry returns the full entry for key and records the exposure
func (c *client) GetEntry(key string) (ConfigEntry, bool) {
	entry, ok := c.settings.Entry(key)
	if !ok {
		return ConfigEntry{}, false
	}
	c.recordExposure(entry)
	return entry, true
}

// AllFlags returns a copy of the current flag map
func (c *client) AllFlags() map[string]ConfigEntry {
	entries := c.settings.Snapshot().Entries
	out := make(map[string]ConfigEntry, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

// recordExposure queues a usage summary for a served flag. Entries with
// incomplete metadata produce no summary.
func (c *client) recordExposure(entry ConfigEntry) {
	if c.closed.Load() || !entry.Metadata.complete() {
		return
	}
	c.summaries.Enqueue(Summary{
		ExperienceID: entry.Metadata.ExperienceID,
		ConfigID:     entry.Metadata.ConfigID,
		VariationID:  entry.Metadata.VariationID,
		Version:      entry.Metadata.Version,
		Key:          entry.Key,
		RequestedAt:  epochMillis(c.clock.Now()),
	})
}

// TrackEvent queues an analytics event
func (c *client) TrackEvent(name string, properties map[string]any) error {
	if c.closed.Load() {
		return NewError(ErrorTypeInternal, "client is closed", ErrClientClosed)
	}
	return c.events.Enqueue(Event{
		Name:       name,
		Properties: properties,
		Timestamp:  epochMillis(c.clock.Now()),
		SessionID:  c.sessions.CurrentSessionID(),
		InsertID:   c.ids.NewID(),
	})
}

// ForceRefresh fetches the settings document unconditionally
func (c *client) ForceRefresh(ctx context.Context) error {
	_, err := c.settings.ForceRefresh(ctx)
	return err
}

// Flush delivers pending summaries, then pending events
func (c *client) Flush(ctx context.Context) error {
	sumErr := c.summaries.Flush(ctx)
	evtErr := c.events.Flush(ctx)
	return errors.Join(sumErr, evtErr)
}

// AddFlagListener registers a listener for one flag key
func (c *client) AddFlagListener(key string, l FlagChangeListener) Subscription {
	return c.settings.AddFlagListener(key, l)
}

// AddChangeListener registers a listener for every settings change
func (c *client) AddChangeListener(l ChangeListener) Subscription {
	return c.settings.AddChangeListener(l)
}

// AddConnectionStatusListener registers a delivery health listener
func (c *client) AddConnectionStatusListener(l ConnectionStatusListener) Subscription {
	return c.tracker.addListener(l)
}

// AddSessionRotationListener registers a session rotation listener
func (c *client) AddSessionRotationListener(l SessionRotationListener) Subscription {
	return c.sessions.AddRotationListener(l)
}

// CurrentSessionID returns the active session id
func (c *client) CurrentSessionID() string {
	return c.sessions.CurrentSessionID()
}

// RotateSession starts a fresh session
func (c *client) RotateSession() string {
	return c.sessions.RotateSession()
}

// SetNetworkConnected reports host network reachability
func (c *client) SetNetworkConnected(connected bool) {
	if connected {
		if c.conn.set(true) {
			go func() {
				c.settings.Check(context.Background())
				c.flushQueues(context.Background())
			}()
		}
		return
	}

	c.conn.set(false)
	c.tracker.set(ConnectionStatusDisconnected)
	// Spill pending items to durable storage while the process is healthy.
	go c.flushQueues(context.Background())
}

// NotifyAppForeground reports the app entering the foreground
func (c *client) NotifyAppForeground() {
	c.sessions.OnAppForeground()
	if c.conn.Online() {
		go c.settings.Check(context.Background())
	}
}

// NotifyAppBackground reports the app entering the background
func (c *client) NotifyAppBackground() {
	c.sessions.OnAppBackground()
	go c.flushQueues(context.Background())
}

// NotifyAuthChange rotates the session for a new authenticated user
func (c *client) NotifyAuthChange() {
	c.sessions.OnAuthChange()
}

// SetBatteryLow adjusts the polling cadence
func (c *client) SetBatteryLow(low bool) {
	if c.batteryLow.Swap(low) == low {
		return
	}
	c.startPollTask()
}

// ConnectionStatus returns the current delivery health
func (c *client) ConnectionStatus() ConnectionStatus {
	return c.tracker.Status()
}

// flushQueues drains both queues, summaries first.
func (c *client) flushQueues(ctx context.Context) {
	c.summaries.Flush(ctx)
	c.events.Flush(ctx)
}

// Close stops background work and delivers or persists pending items
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.pollTask.Stop()
		c.eventTask.Stop()
		c.summaryTask.Stop()
		c.sweepTask.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.flushQueues(ctx)

		c.summaries.Close()
		c.events.Close()

		if c.ownsTransport {
			c.transport.Close()
		}
	})
	return nil
}
