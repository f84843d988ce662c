package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/diet-sync/internal/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("DIETSYNC_API_URL", "")
	t.Setenv("DIETSYNC_POLL_INTERVAL", "")
	c := config.New()

	require.Equal(t, "http://127.0.0.1:8000/api", c.GetAPIBaseURL())
	require.Equal(t, "ws://127.0.0.1:8000/api/messages/ws", c.GetWebSocketURL())
	require.Equal(t, 30*time.Second, c.GetForegroundPollInterval())
	require.Equal(t, 15*time.Minute, c.GetBackgroundPollInterval())
	require.Equal(t, time.Second, c.GetReconnectBaseDelay())
	require.Equal(t, 30*time.Second, c.GetReconnectMaxDelay())
}

func TestFileLayer(t *testing.T) {
	t.Setenv("DIETSYNC_API_URL", "")
	t.Setenv("DIETSYNC_POLL_INTERVAL", "")
	path := writeConfig(t, `
api_url: https://api.example.com/api/
poll_interval: 10s
background_poll_interval: 1m
reconnect_max: 2m
`)
	c, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com/api", c.GetAPIBaseURL())
	require.Equal(t, "wss://api.example.com/api/messages/ws", c.GetWebSocketURL())
	require.Equal(t, 10*time.Second, c.GetForegroundPollInterval())
	require.Equal(t, 2*time.Minute, c.GetReconnectMaxDelay())

	t.Run("background interval is floored", func(t *testing.T) {
		require.Equal(t, config.MinBackgroundPollInterval, c.GetBackgroundPollInterval())
	})
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api_url: http://from-file/api\npoll_interval: 10s\n")
	t.Setenv("DIETSYNC_API_URL", "http://from-env/api")
	t.Setenv("DIETSYNC_POLL_INTERVAL", "5s")

	c, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://from-env/api", c.GetAPIBaseURL())
	require.Equal(t, 5*time.Second, c.GetForegroundPollInterval())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "poll_interval: [not a duration"))
		require.Error(t, err)
	})
}

func TestGetMockAddr(t *testing.T) {
	t.Setenv("PORT", "9001")
	require.Equal(t, ":9001", config.New().GetMockAddr())

	t.Setenv("PORT", "127.0.0.1:9002")
	require.Equal(t, "127.0.0.1:9002", config.New().GetMockAddr())
}
