package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Root       string // project root the engine operates on
	ConfigPath string // declared-structure .hcl file or directory

	LogFormat string
	LogLevel  string

	// NoMonitor disables the background health loop; used by one-shot
	// invocations that exit right after the startup pipeline.
	NoMonitor bool
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Root == "" {
		return nil, errors.New("Root is a required configuration field and cannot be empty")
	}
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
