// Package monitoring - logger.go provides structured logging via zerolog.
//
// DESIGN: Thin wrapper around zerolog with configurable level, format
// (json/console) and output (stdout/stderr/file). Global() installs the
// default logger used throughout the watcher.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig controls the structured logger.
type LoggerConfig struct {
	Level  string `yaml:"log_level"`  // debug, info, warn, error
	Format string `yaml:"log_format"` // json, console
	Output string `yaml:"log_output"` // stdout, stderr, or file path
}

// NewLogger creates a zerolog logger from config.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer = os.Stdout
		} else {
			writer = f
		}
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Global installs the configured logger as the process default.
func Global(cfg LoggerConfig) {
	log.Logger = NewLogger(cfg)
}
