package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init initializes the logging subsystem writing to stderr.
//
// The returned level can be changed at runtime.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	return initWithOutput(cfg, "stderr", term.IsTerminal(int(os.Stderr.Fd())))
}

func initWithOutput(cfg *Config, path string, colored bool) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	encoding := cfg.Format
	if encoding == "" {
		encoding = "console"
	}

	var encoderConfig zapcore.EncoderConfig
	if encoding == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		if colored {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}
