package syncmanager

import (
	"errors"
	"time"
)

const (
	DefaultCooldown       = 2 * time.Second
	DefaultDebounce       = 300 * time.Millisecond
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

// Config holds the per-device sync settings
type Config struct {
	DeviceID string
	TeamID   string

	// Cooldown is the minimum spacing between two sends to the remote store.
	Cooldown time.Duration
	// Debounce groups changes that arrive close together into one send.
	Debounce time.Duration
	// SettleDelay is the wait after a realtime broadcast before fetching,
	// so bursts of broadcasts produce one fetch.
	SettleDelay    time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("sync: device id is required")
	}
	if c.TeamID == "" {
		return errors.New("sync: team id is required")
	}
	return nil
}
