package sdk

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// RotationReason explains why a session was replaced. It is reported to
// session listeners and the observer.
type RotationReason string

const (
	// RotationReasonAppStart is a fresh session on process start
	RotationReasonAppStart RotationReason = "app_start"
	// RotationReasonMaxDuration means the session exceeded its maximum age
	RotationReasonMaxDuration RotationReason = "max_duration_exceeded"
	// RotationReasonBackgroundTimeout means the app was backgrounded too long
	RotationReasonBackgroundTimeout RotationReason = "background_timeout"
	// RotationReasonAuthChange means the authenticated user changed
	RotationReasonAuthChange RotationReason = "auth_change"
	// RotationReasonManual is an explicit host-requested rotation
	RotationReasonManual RotationReason = "manual_rotation"
	// RotationReasonStorageError means the persisted session was unreadable
	RotationReasonStorageError RotationReason = "storage_error"
	// RotationReasonNetworkChange is a rotation triggered by a network switch
	RotationReasonNetworkChange RotationReason = "network_change"
)

// SessionConfig configures session lifetime rules.
type SessionConfig struct {
	// MaxSessionDuration is the maximum age of a session before it is
	// rotated regardless of activity.
	// Default: 1h
	MaxSessionDuration time.Duration

	// BackgroundThreshold is how long the app may stay inactive before
	// the next foreground starts a fresh session.
	// Default: 15m
	BackgroundThreshold time.Duration

	// MinSessionDuration is how long a restart may follow the last
	// recorded app start before the session rotates with reason app_start.
	// Restarts inside this window (a crash loop, a quick relaunch) reuse
	// the persisted session.
	// Default: 10m
	MinSessionDuration time.Duration

	// RotateOnAppRestart forces a fresh session on every process start,
	// regardless of MinSessionDuration.
	RotateOnAppRestart bool

	// RotateOnAuthChange rotates the session when the host reports an
	// authenticated-user change. Enabled in DefaultSessionConfig.
	RotateOnAuthChange bool

	// IDPrefix is the leading token of generated session ids.
	// Default: "cf_session"
	IDPrefix string
}

// DefaultSessionConfig returns the session policy used when none is
// supplied: sessions live at most 1h, survive 15m of inactivity and
// restarts within 10m of the last app start, and rotate on auth changes.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSessionDuration:  time.Hour,
		BackgroundThreshold: 15 * time.Minute,
		MinSessionDuration:  10 * time.Minute,
		RotateOnAuthChange:  true,
		IDPrefix:            "cf_session",
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = time.Hour
	}
	if c.BackgroundThreshold <= 0 {
		c.BackgroundThreshold = 15 * time.Minute
	}
	if c.MinSessionDuration <= 0 {
		c.MinSessionDuration = 10 * time.Minute
	}
	if c.IDPrefix == "" {
		c.IDPrefix = "cf_session"
	}
	return c
}

// SessionRotationListener observes session rotations.
type SessionRotationListener func(oldID, newID string, reason RotationReason)

// SessionRecord is the persisted shape of the active session.
type SessionRecord struct {
	// ID is the session identifier
	ID string `json:"id"`
	// StartedAt is the session start, in epoch milliseconds
	StartedAt int64 `json:"started_at"`
	// LastActiveAt is the last recorded activity, in epoch milliseconds
	LastActiveAt int64 `json:"last_active_at"`
	// AppStartedAt is the last recorded app start, in epoch milliseconds.
	// Updated on every restore, whether the session was reused or rotated.
	AppStartedAt int64 `json:"app_started_at"`
	// Reason is why this session was created
	Reason RotationReason `json:"rotation_reason"`
}

const sessionRecordKey = "session.current"

// SessionManager owns the active session id. A session survives restarts
// through the durable store as long as it is neither older than
// MaxSessionDuration nor inactive longer than BackgroundThreshold; every
// rotation notifies the registered listeners with the reason.
type SessionManager struct {
	config   SessionConfig
	clock    Clock
	ids      IDSource
	store    Store
	observer Observer

	mu        sync.Mutex
	current   SessionRecord
	listeners *listenerRegistry[SessionRotationListener]
}

// NewSessionManager restores or starts a session immediately. The store
// may be nil, in which case sessions never survive a restart.
func NewSessionManager(config SessionConfig, clock Clock, ids IDSource, store Store, observer Observer) *SessionManager {
	if clock == nil {
		clock = SystemClock()
	}
	if ids == nil {
		ids = UUIDSource()
	}
	if observer == nil {
		observer = &NoopObserver{}
	}

	m := &SessionManager{
		config:    config.withDefaults(),
		clock:     clock,
		ids:       ids,
		store:     store,
		observer:  observer,
		listeners: newListenerRegistry[SessionRotationListener](),
	}
	m.restore()
	return m
}

// restore loads the persisted session and reuses it when still valid,
// otherwise rotates with the appropriate reason.
func (m *SessionManager) restore() {
	if m.store == nil {
		m.rotate(RotationReasonAppStart)
		return
	}

	raw, found, err := m.store.GetString(sessionRecordKey)
	if err != nil {
		m.rotate(RotationReasonStorageError)
		return
	}
	if !found {
		m.rotate(RotationReasonAppStart)
		return
	}

	var rec SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ID == "" {
		m.rotate(RotationReasonStorageError)
		return
	}

	now := m.clock.Now()
	age := now.Sub(time.UnixMilli(rec.StartedAt))
	inactive := now.Sub(time.UnixMilli(rec.LastActiveAt))
	sinceAppStart := now.Sub(time.UnixMilli(rec.AppStartedAt))

	switch {
	case m.config.RotateOnAppRestart:
		m.rotate(RotationReasonAppStart)
	case age >= m.config.MaxSessionDuration:
		m.rotate(RotationReasonMaxDuration)
	case inactive >= m.config.BackgroundThreshold:
		m.rotate(RotationReasonBackgroundTimeout)
	case rec.AppStartedAt == 0 || sinceAppStart >= m.config.MinSessionDuration:
		m.rotate(RotationReasonAppStart)
	default:
		// A quick relaunch keeps the session; only the app-start marker
		// and activity move forward.
		m.mu.Lock()
		m.current = rec
		m.current.LastActiveAt = epochMillis(now)
		m.current.AppStartedAt = epochMillis(now)
		m.persistLocked()
		m.mu.Unlock()
	}
}

// CurrentSessionID returns the active session id, rotating first when the
// session has exceeded its maximum age. Reading counts as activity.
func (m *SessionManager) CurrentSessionID() string {
	m.mu.Lock()
	now := m.clock.Now()
	if m.current.ID != "" && now.Sub(time.UnixMilli(m.current.StartedAt)) >= m.config.MaxSessionDuration {
		m.mu.Unlock()
		return m.rotate(RotationReasonMaxDuration)
	}
	m.current.LastActiveAt = epochMillis(now)
	m.persistLocked()
	id := m.current.ID
	m.mu.Unlock()
	return id
}

// Touch records host activity without reading the id.
func (m *SessionManager) Touch() {
	m.mu.Lock()
	m.current.LastActiveAt = epochMillis(m.clock.Now())
	m.persistLocked()
	m.mu.Unlock()
}

// RotateSession starts a fresh session on behalf of the host and returns
// the new id.
func (m *SessionManager) RotateSession() string {
	return m.rotate(RotationReasonManual)
}

// OnAuthChange rotates the session because the authenticated user changed.
// A no-op when RotateOnAuthChange is disabled.
func (m *SessionManager) OnAuthChange() string {
	if !m.config.RotateOnAuthChange {
		m.mu.Lock()
		id := m.current.ID
		m.mu.Unlock()
		return id
	}
	return m.rotate(RotationReasonAuthChange)
}

// OnAppBackground records the background transition so the next foreground
// can decide whether the pause was too long.
func (m *SessionManager) OnAppBackground() {
	m.Touch()
}

// OnAppForeground rotates when the app stayed in the background longer
// than the threshold, otherwise just records activity.
func (m *SessionManager) OnAppForeground() string {
	m.mu.Lock()
	now := m.clock.Now()
	inactive := now.Sub(time.UnixMilli(m.current.LastActiveAt))
	if m.current.ID != "" && inactive >= m.config.BackgroundThreshold {
		m.mu.Unlock()
		return m.rotate(RotationReasonBackgroundTimeout)
	}
	m.current.LastActiveAt = epochMillis(now)
	m.persistLocked()
	id := m.current.ID
	m.mu.Unlock()
	return id
}

// AddRotationListener registers a rotation listener.
func (m *SessionManager) AddRotationListener(l SessionRotationListener) Subscription {
	return m.listeners.add(l)
}

// rotate replaces the current session and notifies listeners outside the
// lock.
func (m *SessionManager) rotate(reason RotationReason) string {
	now := m.clock.Now()
	newID := m.newSessionID(now)

	m.mu.Lock()
	oldID := m.current.ID
	m.current = SessionRecord{
		ID:           newID,
		StartedAt:    epochMillis(now),
		LastActiveAt: epochMillis(now),
		AppStartedAt: epochMillis(now),
		Reason:       reason,
	}
	m.persistLocked()
	m.mu.Unlock()

	m.observer.OnSessionRotated(oldID, newID, reason)
	for _, l := range m.listeners.snapshot() {
		l(oldID, newID, reason)
	}
	return newID
}

// newSessionID builds "{prefix}_{millis}_{8 hex chars}".
func (m *SessionManager) newSessionID(now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", m.config.IDPrefix, epochMillis(now), shortHex(m.ids, 8))
}

// persistLocked writes the current record; callers hold m.mu. Storage
// failures are ignored so session handling never breaks flag reads.
func (m *SessionManager) persistLocked() {
	if m.store == nil || m.current.ID == "" {
		return
	}
	data, err := json.Marshal(m.current)
	if err != nil {
		return
	}
	m.store.SetString(sessionRecordKey, string(data))
}
