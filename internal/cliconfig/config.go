package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the settings for the caseship sync agent.
type Config struct {
	// DBPath is the shared case database, typically a SQLite file on a
	// network drive.
	DBPath string

	// QueuePath is the durable local queue file.
	QueuePath string

	// FlushInterval is the period between flush attempts while idle.
	FlushInterval time.Duration

	// Once performs the startup flush and exits.
	Once bool

	// LogLevel sets the minimum log level: debug, info, warn, or error.
	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		QueuePath:     defaultQueuePath(),
		FlushInterval: 30 * time.Second,
		LogLevel:      "info",
	}
}

func defaultQueuePath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".caseship", "buffer_queue.json")
	}
	return "buffer_queue.json"
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db is required")
	}
	if c.QueuePath == "" {
		c.QueuePath = defaultQueuePath()
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
