package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime/clocksync"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Clock    ClockConfig    `yaml:"clock"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Log      LogConfig      `yaml:"log"`
}

// RealtimeConfig configures the push connection.
type RealtimeConfig struct {
	PushURL        string        `yaml:"push_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// ClockConfig configures clock synchronization and display.
type ClockConfig struct {
	AuthorityURL string        `yaml:"authority_url"`
	TickPeriod   time.Duration `yaml:"tick_period"`
	ResyncPeriod time.Duration `yaml:"resync_period"`
	DisplayZone  string        `yaml:"display_zone"`
	Estimator    string        `yaml:"estimator"`
}

// GatewayConfig configures the feed gateway server.
type GatewayConfig struct {
	Port              string        `yaml:"port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	NATSURL           string        `yaml:"nats_url"`
	NATSStream        string        `yaml:"nats_stream"`
	NATSSubject       string        `yaml:"nats_subject"`
	RedisURL          string        `yaml:"redis_url"`
	RedisChannel      string        `yaml:"redis_channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration the dashboard ships with.
func Default() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			PushURL:        "ws://localhost:8000/ws/props",
			ReconnectDelay: 3 * time.Second,
		},
		Clock: ClockConfig{
			AuthorityURL: "http://localhost:8000",
			TickPeriod:   time.Second,
			ResyncPeriod: 5 * time.Minute,
			DisplayZone:  "America/Chicago",
			Estimator:    "one_way",
		},
		Gateway: GatewayConfig{
			Port:              "8000",
			HeartbeatInterval: 30 * time.Second,
			NATSStream:        "PROPS",
			NATSSubject:       "props.updates.>",
			RedisChannel:      "props:updates",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadDotEnv loads a .env file if one exists. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load builds the configuration from defaults, the optional YAML file at path,
// and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Realtime.PushURL = getEnv("PUSH_URL", c.Realtime.PushURL)
	c.Clock.AuthorityURL = getEnv("TIME_AUTHORITY_URL", c.Clock.AuthorityURL)
	c.Clock.DisplayZone = getEnv("DISPLAY_ZONE", c.Clock.DisplayZone)
	c.Clock.Estimator = getEnv("CLOCK_ESTIMATOR", c.Clock.Estimator)
	c.Gateway.Port = getEnv("GATEWAY_PORT", c.Gateway.Port)
	c.Gateway.NATSURL = getEnv("NATS_URL", c.Gateway.NATSURL)
	c.Gateway.RedisURL = getEnv("REDIS_URL", c.Gateway.RedisURL)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RECONNECT_DELAY", &c.Realtime.ReconnectDelay},
		{"TICK_PERIOD", &c.Clock.TickPeriod},
		{"RESYNC_PERIOD", &c.Clock.ResyncPeriod},
		{"HEARTBEAT_INTERVAL", &c.Gateway.HeartbeatInterval},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	return nil
}

// Validate checks configuration correctness. It does not mutate the config.
func (c *Config) Validate() error {
	if c.Realtime.PushURL == "" {
		return errors.New("realtime.push_url is required")
	}
	if !strings.HasPrefix(c.Realtime.PushURL, "ws://") && !strings.HasPrefix(c.Realtime.PushURL, "wss://") {
		return fmt.Errorf("realtime.push_url %q must use ws:// or wss://", c.Realtime.PushURL)
	}
	if c.Realtime.ReconnectDelay <= 0 {
		return fmt.Errorf("realtime.reconnect_delay must be positive, got %s", c.Realtime.ReconnectDelay)
	}

	if c.Clock.AuthorityURL == "" {
		return errors.New("clock.authority_url is required")
	}
	if c.Clock.TickPeriod <= 0 {
		return fmt.Errorf("clock.tick_period must be positive, got %s", c.Clock.TickPeriod)
	}
	if c.Clock.ResyncPeriod < c.Clock.TickPeriod {
		return fmt.Errorf("clock.resync_period (%s) must not be shorter than clock.tick_period (%s)",
			c.Clock.ResyncPeriod, c.Clock.TickPeriod)
	}
	if _, err := time.LoadLocation(c.Clock.DisplayZone); err != nil {
		return fmt.Errorf("clock.display_zone: %w", err)
	}
	if _, err := clocksync.ParseEstimator(c.Clock.Estimator); err != nil {
		return fmt.Errorf("clock.estimator: %w", err)
	}

	if c.Gateway.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway.heartbeat_interval must be positive, got %s", c.Gateway.HeartbeatInterval)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
