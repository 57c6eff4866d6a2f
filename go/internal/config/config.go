// Package config loads relayd and device agent settings from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends for the remote race store
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  string       `yaml:"store"`
	NATS   NATSConfig   `yaml:"nats"`
	Log    LogConfig    `yaml:"log"`
	Device DeviceConfig `yaml:"device"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NATSConfig enables the NATS broadcast channel when URL is set
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// DeviceConfig holds settings for a device agent
type DeviceConfig struct {
	DeviceID    string        `yaml:"device_id"`
	TeamID      string        `yaml:"team_id"`
	BackendURL  string        `yaml:"backend_url"`
	GatewayURL  string        `yaml:"gateway_url"`
	QueuePath   string        `yaml:"queue_path"`
	RosterPath  string        `yaml:"roster_path"`
	MetricsAddr string        `yaml:"metrics_addr"`
	ProbeEvery  time.Duration `yaml:"probe_interval"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Debounce    time.Duration `yaml:"debounce"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Timeout     time.Duration `yaml:"request_timeout"`
	Tolerance   time.Duration `yaml:"conflict_tolerance"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Default returns the settings used when no file or env override applies
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreMemory,
		NATS: NATSConfig{
			SubjectPrefix: "relay.broadcast",
			ReconnectWait: 2 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Device: DeviceConfig{
			BackendURL:  "http://localhost:8080",
			GatewayURL:  "ws://localhost:8080/ws/team",
			QueuePath:   "relay-queue.db",
			Cooldown:    2 * time.Second,
			Debounce:    300 * time.Millisecond,
			SettleDelay: 500 * time.Millisecond,
			Timeout:     10 * time.Second,
			Tolerance:   time.Minute,
			MaxAttempts: 10,
			ProbeEvery:  5 * time.Second,
		},
	}
}

// Load reads path (optional) over the defaults, then applies env overrides
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Store = getEnv("RELAY_STORE", c.Store)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Device.DeviceID = getEnv("RELAY_DEVICE_ID", c.Device.DeviceID)
	c.Device.TeamID = getEnv("RELAY_TEAM_ID", c.Device.TeamID)
	c.Device.BackendURL = getEnv("RELAY_BACKEND_URL", c.Device.BackendURL)
	c.Device.GatewayURL = getEnv("RELAY_GATEWAY_URL", c.Device.GatewayURL)
	c.Device.QueuePath = getEnv("RELAY_QUEUE_PATH", c.Device.QueuePath)
	c.Device.RosterPath = getEnv("RELAY_ROSTER_PATH", c.Device.RosterPath)
	c.Device.MetricsAddr = getEnv("RELAY_METRICS_ADDR", c.Device.MetricsAddr)
	c.Device.Cooldown = getEnvAsDuration("RELAY_SYNC_COOLDOWN", c.Device.Cooldown)
	c.Device.Tolerance = getEnvAsDuration("RELAY_CONFLICT_TOLERANCE", c.Device.Tolerance)
	c.Device.MaxAttempts = getEnvAsInt("RELAY_MAX_ATTEMPTS", c.Device.MaxAttempts)
}

// Validate checks server-side settings. Device settings are checked by
// ValidateDevice since relayd does not need them.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Store != StoreMemory && c.Store != StorePostgres {
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Device.MaxAttempts < 0 {
		errs = append(errs, errors.New("device.max_attempts must not be negative"))
	}
	if c.Device.Cooldown < 0 || c.Device.Debounce < 0 || c.Device.SettleDelay < 0 {
		errs = append(errs, errors.New("device sync delays must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateDevice checks the settings a device agent needs
func (c *Config) ValidateDevice() error {
	var errs []error
	if c.Device.DeviceID == "" {
		errs = append(errs, errors.New("device.device_id is required"))
	}
	if c.Device.TeamID == "" {
		errs = append(errs, errors.New("device.team_id is required"))
	}
	if c.Device.BackendURL == "" {
		errs = append(errs, errors.New("device.backend_url is required"))
	}
	if c.Device.RosterPath == "" {
		errs = append(errs, errors.New("device.roster_path is required"))
	}
	if c.Device.ProbeEvery <= 0 {
		errs = append(errs, errors.New("device.probe_interval must be positive"))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, info if unparseable
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
