package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (CASESHIP_*).
// It respects flags that have been explicitly set (changed map).
// Environment overrides the config file but is overridden by flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db", os.Getenv("CASESHIP_DB_PATH"), &cfg.DBPath)
	s.setString("queue", os.Getenv("CASESHIP_QUEUE_PATH"), &cfg.QueuePath)

	if err := s.setDuration("flush-interval", os.Getenv("CASESHIP_FLUSH_INTERVAL"), &cfg.FlushInterval); err != nil {
		return err
	}

	s.setBoolFromString("once", os.Getenv("CASESHIP_ONCE"), &cfg.Once)
	s.setString("log-level", os.Getenv("CASESHIP_LOG_LEVEL"), &cfg.LogLevel)
	return nil
}
