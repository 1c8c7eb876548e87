package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the root configuration structure
type Config struct {
	App        AppConfig        `json:"app"`
	Serial     SerialConfig     `json:"serial"`
	Scale      ScaleConfig      `json:"scale"`
	Store      StoreConfig      `json:"store"`
	NATS       NATSConfig       `json:"nats"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Recovery   RecoveryConfig   `json:"recovery"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id"`
}

// SerialConfig holds the scale transport parameters. These are immutable
// while a connection is open; edits require disconnect/reconnect and are
// persisted back to disk on every change.
type SerialConfig struct {
	Device     string `json:"device"`      // e.g., "/dev/ttyUSB0" or "COM3"
	BaudRate   int    `json:"baud_rate"`   // 4800..115200
	Parity     string `json:"parity"`      // "none", "even", "odd"
	StopBits   int    `json:"stop_bits"`   // 1 or 2
	DataBits   int    `json:"data_bits"`   // always 8 for supported scales
	AutoResume bool   `json:"auto_resume"` // silently reopen the port at startup
}

// ScaleConfig selects the stability strategy. The strategies themselves
// carry no tuning knobs.
type ScaleConfig struct {
	Strategy string `json:"strategy"` // "window" or "timer"
}

// StoreConfig contains the embedded SQLite store settings
type StoreConfig struct {
	Path           string `json:"path"`             // database file path
	WALMode        bool   `json:"wal_mode"`         // enable write-ahead logging
	BusyTimeoutSec int    `json:"busy_timeout_sec"` // max wait for a database lock
}

// NATSConfig contains NATS connection settings for the POS feed
type NATSConfig struct {
	Enabled          bool   `json:"enabled"`
	URL              string `json:"url"`
	SubjectPrefix    string `json:"subject_prefix"`
	MaxReconnects    int    `json:"max_reconnects"`
	ReconnectWaitSec int    `json:"reconnect_wait_sec"`
}

// LoggingConfig contains logging and log rotation settings
type LoggingConfig struct {
	BasePath   string `json:"base_path"`   // Base directory for log files
	MaxSizeMB  int    `json:"max_size_mb"` // Max size before rotation
	MaxBackups int    `json:"max_backups"` // Max number of old log files
	Compress   bool   `json:"compress"`    // Compress rotated logs
	Level      string `json:"level"`       // Log level: debug, info, warn, error
}

// MonitoringConfig contains HTTP monitoring server settings
type MonitoringConfig struct {
	Port int `json:"port"`
}

// RecoveryConfig controls automatic reconnection after a dropped
// connection. The backoff is a fixed delay, not exponential: a scale
// either comes back within a couple of seconds or needs operator help.
type RecoveryConfig struct {
	Reconnect         bool `json:"reconnect"`
	ReconnectDelaySec int  `json:"reconnect_delay_sec"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration back to disk. Called after every edit so
// the transport parameters survive restarts.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}

	return nil
}

// setDefaults fills in default values for optional fields
func (c *Config) setDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "ScaleBridge"
	}
	if c.App.InstanceID == "" {
		c.App.InstanceID = "default"
	}

	// Serial defaults
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "none"
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}

	// Scale defaults
	if c.Scale.Strategy == "" {
		c.Scale.Strategy = "window"
	}

	// Store defaults
	if c.Store.Path == "" {
		c.Store.Path = "data/scalebridge.db"
	}
	if c.Store.BusyTimeoutSec == 0 {
		c.Store.BusyTimeoutSec = 5
	}

	// NATS defaults
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "scale"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWaitSec == 0 {
		c.NATS.ReconnectWaitSec = 5
	}

	// Logging defaults
	if c.Logging.BasePath == "" {
		c.Logging.BasePath = "logs"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	// Monitoring defaults
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8080
	}

	// Recovery defaults
	if c.Recovery.ReconnectDelaySec == 0 {
		c.Recovery.ReconnectDelaySec = 2
	}
}

// Helper methods for time conversions
func (n *NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWaitSec) * time.Second
}

func (r *RecoveryConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelaySec) * time.Second
}

func (s *StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutSec) * time.Second
}
