package sdk

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(clock Clock, store Store) *SessionManager {
	return NewSessionManager(DefaultSessionConfig(), clock, &seqIDs{}, store, nil)
}

func TestSessionManager(t *testing.T) {
	t.Run("starts a session on first run", func(t *testing.T) {
		m := newTestSessionManager(newFakeClock(), NewMemoryStore())
		id := m.CurrentSessionID()
		assert.NotEmpty(t, id)
	})

	t.Run("session id format", func(t *testing.T) {
		clock := newFakeClock()
		m := newTestSessionManager(clock, NewMemoryStore())
		id := m.CurrentSessionID()
		assert.Regexp(t, regexp.MustCompile(`^cf_session_\d+_[0-9a-f]{8}$`), id)
	})

	t.Run("id is stable across reads", func(t *testing.T) {
		m := newTestSessionManager(newFakeClock(), NewMemoryStore())
		assert.Equal(t, m.CurrentSessionID(), m.CurrentSessionID())
	})

	t.Run("recent session survives restart", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		first := newTestSessionManager(clock, store)
		id := first.CurrentSessionID()

		clock.Advance(5 * time.Minute)
		second := newTestSessionManager(clock, store)
		assert.Equal(t, id, second.CurrentSessionID())
	})

	t.Run("old session is rotated on restart", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		first := newTestSessionManager(clock, store)
		id := first.CurrentSessionID()

		clock.Advance(2 * time.Hour)
		second := newTestSessionManager(clock, store)
		assert.NotEqual(t, id, second.CurrentSessionID())
	})

	t.Run("inactive session is rotated on restart", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		first := newTestSessionManager(clock, store)
		id := first.CurrentSessionID()

		// Under max duration but past the background threshold.
		clock.Advance(30 * time.Minute)
		second := newTestSessionManager(clock, store)
		assert.NotEqual(t, id, second.CurrentSessionID())
	})

	t.Run("restart past min session duration rotates with app_start", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		first := newTestSessionManager(clock, store)
		id := first.CurrentSessionID()

		// Under the max age and inactivity thresholds, but the last app
		// start is long enough ago that a restart means a new session.
		clock.Advance(11 * time.Minute)
		first.Touch()

		obs := &rotationRecorder{}
		second := NewSessionManager(DefaultSessionConfig(), clock, &seqIDs{}, store, obs)
		assert.NotEqual(t, id, second.CurrentSessionID())
		assert.Equal(t, RotationReasonAppStart, obs.reason())
	})

	t.Run("rotate on app restart forces a fresh session", func(t *testing.T) {
		clock := newFakeClock()
		store := NewMemoryStore()

		config := DefaultSessionConfig()
		config.RotateOnAppRestart = true
		first := NewSessionManager(config, clock, &seqIDs{}, store, nil)
		id := first.CurrentSessionID()

		clock.Advance(time.Minute)
		second := NewSessionManager(config, clock, &seqIDs{}, store, nil)
		assert.NotEqual(t, id, second.CurrentSessionID())
	})

	t.Run("first run rotates with app_start", func(t *testing.T) {
		obs := &rotationRecorder{}
		m := NewSessionManager(SessionConfig{}, newFakeClock(), &seqIDs{}, NewMemoryStore(), obs)
		assert.Equal(t, RotationReasonAppStart, obs.reason())
		assert.NotEmpty(t, m.CurrentSessionID())
	})

	t.Run("corrupt persisted record rotates with storage_error", func(t *testing.T) {
		store := NewMemoryStore()
		store.SetString(sessionRecordKey, "{broken")

		obs := &rotationRecorder{}
		m := NewSessionManager(SessionConfig{}, newFakeClock(), &seqIDs{}, store, obs)
		assert.Equal(t, RotationReasonStorageError, obs.reason())
		assert.NotEmpty(t, m.CurrentSessionID())
	})

	t.Run("max duration rotates on read", func(t *testing.T) {
		clock := newFakeClock()
		m := newTestSessionManager(clock, NewMemoryStore())
		id := m.CurrentSessionID()

		clock.Advance(61 * time.Minute)
		rotated := m.CurrentSessionID()
		assert.NotEqual(t, id, rotated)
	})

	t.Run("long background rotates on foreground", func(t *testing.T) {
		clock := newFakeClock()
		m := newTestSessionManager(clock, NewMemoryStore())
		id := m.CurrentSessionID()

		m.OnAppBackground()
		clock.Advance(20 * time.Minute)
		newID := m.OnAppForeground()
		assert.NotEqual(t, id, newID)
	})

	t.Run("short background keeps the session", func(t *testing.T) {
		clock := newFakeClock()
		m := newTestSessionManager(clock, NewMemoryStore())
		id := m.CurrentSessionID()

		m.OnAppBackground()
		clock.Advance(5 * time.Minute)
		assert.Equal(t, id, m.OnAppForeground())
	})

	t.Run("auth change rotates", func(t *testing.T) {
		clock := newFakeClock()
		m := newTestSessionManager(clock, NewMemoryStore())
		id := m.CurrentSessionID()

		var gotReason RotationReason
		m.AddRotationListener(func(oldID, newID string, reason RotationReason) {
			assert.Equal(t, id, oldID)
			gotReason = reason
		})
		newID := m.OnAuthChange()
		assert.NotEqual(t, id, newID)
		assert.Equal(t, RotationReasonAuthChange, gotReason)
	})

	t.Run("auth rotation can be disabled", func(t *testing.T) {
		config := DefaultSessionConfig()
		config.RotateOnAuthChange = false
		m := NewSessionManager(config, newFakeClock(), &seqIDs{}, NewMemoryStore(), nil)
		id := m.CurrentSessionID()
		assert.Equal(t, id, m.OnAuthChange())
	})

	t.Run("manual rotation notifies listeners", func(t *testing.T) {
		m := newTestSessionManager(newFakeClock(), NewMemoryStore())
		notified := 0
		sub := m.AddRotationListener(func(oldID, newID string, reason RotationReason) {
			notified++
			assert.Equal(t, RotationReasonManual, reason)
		})
		m.RotateSession()
		require.Equal(t, 1, notified)

		sub.Close()
		m.RotateSession()
		assert.Equal(t, 1, notified, "closed subscription receives nothing")
	})
}
