package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// Format is either "console" or "json". Console output is colored when
	// written to a terminal.
	Format string `yaml:"format"`
}

// DefaultConfig returns console logging at the info level.
func DefaultConfig() Config {
	return Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
	}
}

// Validate validates the logging configuration.
func (m *Config) Validate() error {
	switch m.Format {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("unsupported log format %q", m.Format)
	}
}
