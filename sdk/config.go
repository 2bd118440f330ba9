package sdk

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all SDK client configuration. Use DefaultConfig() and the
// With* builders rather than constructing it field by field, so new fields
// pick up their defaults.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithClientKey("ck_live_xxx").
//	    WithPollInterval(time.Minute).
//	    WithStore(store)
//	client, err := sdk.NewClient(config)
type Config struct {
	// ClientKey authenticates this client with the remote authority.
	// Required.
	ClientKey string

	// BaseURL is the remote authority's base URL.
	// Default: "https://api.flagnest.io"
	BaseURL string

	// PollInterval drives the periodic settings check.
	// Default: 30s
	PollInterval time.Duration

	// SettingsTimeout bounds one settings check cycle end to end,
	// including retries.
	// Default: 10s
	SettingsTimeout time.Duration

	// CacheTTL is how long a fetched settings document stays fresh in the
	// durable cache.
	// Default: 24h
	CacheTTL time.Duration

	// Offline starts the client with networking suppressed. Flags are
	// served from cache and queued items are retained until the host
	// reports connectivity via SetNetworkConnected(true).
	Offline bool

	// User are attributes attached to every delivered batch.
	User map[string]any

	// Logger, when set, emits structured logs for SDK operations.
	Logger *logrus.Logger

	// Observer receives operational callbacks. Default: NoopObserver.
	Observer Observer

	// Store is the durable key/value store backing cache, session and
	// offline queues. Default: in-memory only.
	Store Store

	// Blobs stores oversized cache values. Optional; when the Store also
	// implements BlobStore it is used automatically.
	Blobs BlobStore

	// Transport overrides the wire collaborator. Default: HTTPTransport.
	Transport Transport

	// TransportConfig configures the default HTTPTransport. Ignored when
	// Transport is set.
	TransportConfig TransportConfig

	// Clock overrides the time source. Default: system clock.
	Clock Clock

	// IDs overrides the unique id source. Default: UUIDs.
	IDs IDSource

	// Backoff configures retry behavior for network operations.
	Backoff BackoffConfig

	// Breaker configures the per-operation circuit breakers.
	Breaker CircuitBreakerConfig

	// EventQueue configures the analytics event queue.
	EventQueue QueueConfig

	// SummaryQueue configures the flag exposure summary queue.
	SummaryQueue QueueConfig

	// Session configures session lifetime rules.
	Session SessionConfig

	// Cache configures the two-tier settings cache.
	Cache CacheConfig
}

// DefaultConfig returns a configuration with sensible defaults. A ClientKey
// must still be supplied before the config validates.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.flagnest.io",
		PollInterval:    30 * time.Second,
		SettingsTimeout: 10 * time.Second,
		CacheTTL:        24 * time.Hour,
		Backoff:         DefaultBackoffConfig(),
		Breaker:         DefaultCircuitBreakerConfig(),
		Session:         DefaultSessionConfig(),
		Cache:           DefaultCacheConfig(),
	}
}

// WithClientKey sets the client key
func (c Config) WithClientKey(key string) Config {
	c.ClientKey = key
	return c
}

// WithBaseURL sets the remote authority base URL
func (c Config) WithBaseURL(url string) Config {
	c.BaseURL = strings.TrimRight(url, "/")
	return c
}

// WithPollInterval sets the settings poll interval
func (c Config) WithPollInterval(interval time.Duration) Config {
	c.PollInterval = interval
	return c
}

// WithSettingsTimeout sets the per-cycle settings check timeout
func (c Config) WithSettingsTimeout(timeout time.Duration) Config {
	c.SettingsTimeout = timeout
	return c
}

// WithCacheTTL sets the settings document cache TTL
func (c Config) WithCacheTTL(ttl time.Duration) Config {
	c.CacheTTL = ttl
	return c
}

// WithOffline sets offline mode
func (c Config) WithOffline(offline bool) Config {
	c.Offline = offline
	return c
}

// WithUser sets the user attributes attached to delivered batches
func (c Config) WithUser(user map[string]any) Config {
	c.User = user
	return c
}

// WithLogger sets the structured logger
func (c Config) WithLogger(logger *logrus.Logger) Config {
	c.Logger = logger
	return c
}

// WithObserver sets the operational observer
func (c Config) WithObserver(observer Observer) Config {
	c.Observer = observer
	return c
}

// WithStore sets the durable store
func (c Config) WithStore(store Store) Config {
	c.Store = store
	return c
}

// WithBlobStore sets the blob store for oversized cache values
func (c Config) WithBlobStore(blobs BlobStore) Config {
	c.Blobs = blobs
	return c
}

// WithTransport overrides the wire transport
func (c Config) WithTransport(transport Transport) Config {
	c.Transport = transport
	return c
}

// WithTransportConfig configures the default HTTP transport
func (c Config) WithTransportConfig(tc TransportConfig) Config {
	c.TransportConfig = tc
	return c
}

// WithClock overrides the time source
func (c Config) WithClock(clock Clock) Config {
	c.Clock = clock
	return c
}

// WithIDSource overrides the unique id source
func (c Config) WithIDSource(ids IDSource) Config {
	c.IDs = ids
	return c
}

// WithRetry sets the retry backoff configuration
func (c Config) WithRetry(backoff BackoffConfig) Config {
	c.Backoff = backoff
	return c
}

// WithCircuitBreaker sets the circuit breaker configuration
func (c Config) WithCircuitBreaker(breaker CircuitBreakerConfig) Config {
	c.Breaker = breaker
	return c
}

// WithEventQueue sets the analytics event queue configuration
func (c Config) WithEventQueue(qc QueueConfig) Config {
	c.EventQueue = qc
	return c
}

// WithSummaryQueue sets the summary queue configuration
func (c Config) WithSummaryQueue(qc QueueConfig) Config {
	c.SummaryQueue = qc
	return c
}

// WithSession sets the session lifetime configuration
func (c Config) WithSession(sc SessionConfig) Config {
	c.Session = sc
	return c
}

// WithCache sets the cache configuration
func (c Config) WithCache(cc CacheConfig) Config {
	c.Cache = cc
	return c
}

// Validate checks required fields and backfills zero values with defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClientKey) == "" {
		return NewError(ErrorTypeValidation, "client key is required", ErrInvalidConfig)
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.flagnest.io"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.SettingsTimeout <= 0 {
		c.SettingsTimeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.Observer == nil {
		c.Observer = &NoopObserver{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.IDs == nil {
		c.IDs = UUIDSource()
	}
	if c.Session == (SessionConfig{}) {
		c.Session = DefaultSessionConfig()
	}
	return nil
}

// settingsURL builds the settings document URL for this client key.
func (c Config) settingsURL() string {
	return c.BaseURL + "/v1/settings/" + c.ClientKey
}

// eventsURL builds the event batch delivery URL.
func (c Config) eventsURL() string {
	return c.BaseURL + "/v1/events"
}

// summariesURL builds the summary batch delivery URL.
func (c Config) summariesURL() string {
	return c.BaseURL + "/v1/summaries"
}
