package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GridPath string // .hcl file or directory

	LogFormat string
	LogLevel  string

	// Mode overrides the grid's propagation mode when non-empty.
	Mode string
	// CPUWorkers overrides the cpu backend pool size when positive.
	CPUWorkers int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.GridPath == "" {
		return nil, errors.New("GridPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
