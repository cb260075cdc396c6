package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DBPath        string `toml:"db_path"`
	QueuePath     string `toml:"queue_path"`
	FlushInterval string `toml:"flush_interval"`
	Once          *bool  `toml:"once"`
	LogLevel      string `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.caseship/config.toml if the user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".caseship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db", fc.DBPath, &cfg.DBPath)
	s.setString("queue", fc.QueuePath, &cfg.QueuePath)

	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}

	s.setBool("once", fc.Once, &cfg.Once)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
