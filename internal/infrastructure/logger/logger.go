package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultService = "churchledger"

// Config holds logger configuration.
type Config struct {
	Level   string // trace, debug, info, warn, error
	Format  string // json, console
	Service string // defaults to churchledger
	Output  io.Writer
}

// New creates a zerolog logger. Every entry carries the service name so
// server and CLI output can share one sink.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	level := parseLevel(cfg.Level)
	ctx := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service)

	// Caller info is attached at debug and below.
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}

	return ctx.Logger()
}

// parseLevel maps LOG_LEVEL to a zerolog level, falling back to info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}
