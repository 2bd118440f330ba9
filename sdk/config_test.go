package sdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("missing client key fails", func(t *testing.T) {
		config := DefaultConfig()
		err := config.Validate()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("defaults are backfilled", func(t *testing.T) {
		config := Config{ClientKey: "ck_test"}
		require.NoError(t, config.Validate())
		assert.Equal(t, "https://api.flagnest.io", config.BaseURL)
		assert.Equal(t, 30*time.Second, config.PollInterval)
		assert.Equal(t, 10*time.Second, config.SettingsTimeout)
		assert.Equal(t, 24*time.Hour, config.CacheTTL)
		assert.Equal(t, DefaultSessionConfig(), config.Session)
		assert.NotNil(t, config.Observer)
		assert.NotNil(t, config.Clock)
		assert.NotNil(t, config.IDs)
	})

	t.Run("builders chain", func(t *testing.T) {
		config := DefaultConfig().
			WithClientKey("ck_test").
			WithBaseURL("https://eu.flagnest.io/").
			WithPollInterval(time.Minute).
			WithOffline(true)

		require.NoError(t, config.Validate())
		assert.Equal(t, "ck_test", config.ClientKey)
		assert.Equal(t, "https://eu.flagnest.io", config.BaseURL, "trailing slash trimmed")
		assert.Equal(t, time.Minute, config.PollInterval)
		assert.True(t, config.Offline)
	})

	t.Run("endpoint urls", func(t *testing.T) {
		config := DefaultConfig().WithClientKey("ck_test")
		require.NoError(t, config.Validate())
		assert.Equal(t, "https://api.flagnest.io/v1/settings/ck_test", config.settingsURL())
		assert.Equal(t, "https://api.flagnest.io/v1/events", config.eventsURL())
		assert.Equal(t, "https://api.flagnest.io/v1/summaries", config.summariesURL())
	})
}
