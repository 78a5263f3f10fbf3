package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8000/ws/props", cfg.Realtime.PushURL)
	assert.Equal(t, 3*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.Clock.TickPeriod)
	assert.Equal(t, 5*time.Minute, cfg.Clock.ResyncPeriod)
	assert.Equal(t, "America/Chicago", cfg.Clock.DisplayZone)
	assert.Equal(t, 30*time.Second, cfg.Gateway.HeartbeatInterval)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, "butcher.yaml", `
realtime:
  push_url: wss://feed.example.com/ws/props
  reconnect_delay: 5s
clock:
  authority_url: https://feed.example.com
  resync_period: 10m
  estimator: midpoint
log:
  level: debug
`)

	t.Setenv("TICK_PERIOD", "500ms")
	t.Setenv("DISPLAY_ZONE", "America/New_York")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://feed.example.com/ws/props", cfg.Realtime.PushURL)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, "https://feed.example.com", cfg.Clock.AuthorityURL)
	assert.Equal(t, 10*time.Minute, cfg.Clock.ResyncPeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Clock.TickPeriod)
	assert.Equal(t, "America/New_York", cfg.Clock.DisplayZone)
	assert.Equal(t, "midpoint", cfg.Clock.Estimator)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched sections keep their defaults
	assert.Equal(t, "8000", cfg.Gateway.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "realtime: [unclosed"))
	assert.Error(t, err)

	t.Setenv("RECONNECT_DELAY", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "RECONNECT_DELAY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty push url", func(c *Config) { c.Realtime.PushURL = "" }},
		{"http push url", func(c *Config) { c.Realtime.PushURL = "http://localhost:8000/ws/props" }},
		{"zero reconnect delay", func(c *Config) { c.Realtime.ReconnectDelay = 0 }},
		{"empty authority", func(c *Config) { c.Clock.AuthorityURL = "" }},
		{"zero tick", func(c *Config) { c.Clock.TickPeriod = 0 }},
		{"resync faster than tick", func(c *Config) { c.Clock.ResyncPeriod = 100 * time.Millisecond }},
		{"unknown zone", func(c *Config) { c.Clock.DisplayZone = "Central" }},
		{"unknown estimator", func(c *Config) { c.Clock.Estimator = "ntp" }},
		{"zero heartbeat", func(c *Config) { c.Gateway.HeartbeatInterval = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsEstimatorSpellings(t *testing.T) {
	for _, name := range []string{"", "one_way", " midpoint", "MIDPOINT ", "round_trip"} {
		cfg := Default()
		cfg.Clock.Estimator = name
		assert.NoError(t, cfg.Validate(), "estimator %q", name)
	}
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "BUTCHER_TEST_PUSH=ws://dotenv.test/ws/props\n")
	t.Cleanup(func() { os.Unsetenv("BUTCHER_TEST_PUSH") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "ws://dotenv.test/ws/props", os.Getenv("BUTCHER_TEST_PUSH"))
}
