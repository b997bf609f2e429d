package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/nginx/access.log", cfg.Watch.LogPath)
	assert.Equal(t, "nginx", cfg.Watch.Format)
	assert.Equal(t, 0.02, cfg.Alerts.ErrorRateThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.WindowDuration.Std())
	assert.Equal(t, 10, cfg.Alerts.MinSamples)
	// Debounce defaults to the window duration.
	assert.Equal(t, cfg.Alerts.WindowDuration, cfg.Alerts.DebounceInterval)
	assert.Equal(t, "blue", cfg.Alerts.ActivePool)
	assert.False(t, cfg.Alerts.MaintenanceMode)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout.Std())
	assert.Equal(t, 3, cfg.Notify.MaxRetries)
}

func TestLoadYAMLWithDurations(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
watch:
  log_path: /tmp/access.log
  format: json
alerts:
  error_rate_threshold: 0.05
  window_duration: 2m
  min_samples: 25
  debounce_interval: 90s
  active_pool: green
notify:
  webhook_url: https://hooks.example.com/T/B/x
  timeout: 3s
server:
  port: 9180
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/access.log", cfg.Watch.LogPath)
	assert.Equal(t, 0.05, cfg.Alerts.ErrorRateThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Alerts.WindowDuration.Std())
	assert.Equal(t, 25, cfg.Alerts.MinSamples)
	assert.Equal(t, 90*time.Second, cfg.Alerts.DebounceInterval.Std())
	assert.Equal(t, "green", cfg.Alerts.ActivePool)
	assert.Equal(t, 3*time.Second, cfg.Notify.Timeout.Std())
	assert.Equal(t, 9180, cfg.Server.Port)
}

func TestEnvExpansionWithDefaults(t *testing.T) {
	t.Setenv("PW_TEST_LOG", "/var/log/custom.log")

	cfg, err := LoadFromBytes([]byte(`
watch:
  log_path: ${PW_TEST_LOG:-/var/log/nginx/access.log}
alerts:
  active_pool: ${PW_TEST_POOL:-green}
`))
	require.NoError(t, err)

	// Set variable wins; unset variable falls back to its default.
	assert.Equal(t, "/var/log/custom.log", cfg.Watch.LogPath)
	assert.Equal(t, "green", cfg.Alerts.ActivePool)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAINTENANCE_MODE", "true")
	t.Setenv("ERROR_RATE_THRESHOLD", "0.1")
	t.Setenv("WINDOW_DURATION", "10m")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/T/B/y")

	cfg, err := LoadFromBytes([]byte(`
alerts:
  error_rate_threshold: 0.02
  maintenance_mode: false
`))
	require.NoError(t, err)

	assert.True(t, cfg.Alerts.MaintenanceMode)
	assert.Equal(t, 0.1, cfg.Alerts.ErrorRateThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.WindowDuration.Std())
	assert.Equal(t, "https://hooks.example.com/T/B/y", cfg.Notify.WebhookURL)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"threshold too high", "alerts:\n  error_rate_threshold: 1.5\n"},
		{"negative threshold", "alerts:\n  error_rate_threshold: -0.5\n"},
		{"bad pool", "alerts:\n  active_pool: purple\n"},
		{"bad format", "watch:\n  format: syslog\n"},
		{"regex without pattern", "watch:\n  format: regex\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad duration", "alerts:\n  window_duration: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
