package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadClient(t *testing.T) {
	t.Setenv("ADMINPULSE_TEST_SESSION", "s3cret")

	path := writeConfig(t, `
log:
  level: debug
api:
  url: http://localhost:8080
  session_cookie: ${ADMINPULSE_TEST_SESSION}
realtime:
  reconnect_delay: 2s
feeds:
  activity:
    poll_interval: 2m
    window: 50
    types: [PRODUCT, ORDER]
  workflows:
    poll_interval: 5s
    orphan_policy: buffer
    orphan_buffer: 10
  notifications:
    enabled: false
`)

	cfg, err := LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.API.SessionCookie)
	assert.Equal(t, DefaultCookieName, cfg.API.CookieName)
	assert.Equal(t, 2*time.Second, cfg.Realtime.ReconnectDelay.Std())
	assert.Equal(t, DefaultConnectTimeout, cfg.Realtime.ConnectTimeout.Std())
	assert.Equal(t, DefaultIdleTimeout, cfg.Realtime.IdleTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.Feeds.Activity.PollInterval.Std())
	assert.Equal(t, []string{"PRODUCT", "ORDER"}, cfg.Feeds.Activity.Types)
	assert.Equal(t, 5*time.Second, cfg.Feeds.Workflows.PollInterval.Std())
	assert.Equal(t, "buffer", cfg.Feeds.Workflows.OrphanPolicy)
	assert.Equal(t, 10, cfg.Feeds.Workflows.OrphanBuffer)
	assert.True(t, cfg.Feeds.Activity.On())
	assert.False(t, cfg.Feeds.Notifications.On())
}

func TestLoadClientErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing url", body: "api: {}\n"},
		{name: "bad scheme", body: "api:\n  url: ftp://x\n"},
		{name: "bad duration", body: "api:\n  url: http://x\nrealtime:\n  reconnect_delay: soon\n"},
		{name: "bad orphan policy", body: "api:\n  url: http://x\nfeeds:\n  workflows:\n    orphan_policy: keep\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadClient(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadClient(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(writeConfig(t, "simulator:\n  enabled: true\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL.Std())
	assert.Equal(t, DefaultHeartbeat, cfg.Broker.Heartbeat.Std())
	assert.True(t, cfg.Simulator.Enabled)
	assert.Equal(t, DefaultSimInterval, cfg.Simulator.Interval.Std())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ADMINPULSE_TEST_A", "alpha")
	assert.Equal(t, "x=alpha y=", expandEnvVars("x=${ADMINPULSE_TEST_A} y=${ADMINPULSE_TEST_UNSET}"))
}
