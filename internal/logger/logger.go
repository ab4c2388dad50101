// Package logger configures the zerolog logger every ddns-sd binary
// uses. Setup takes the service name so the diagnostic CLIs share it
// with the daemon.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/auto-dns/ddns-sd/internal/config"
	"github.com/rs/zerolog"
)

// Setup builds a console-writer zerolog.Logger tagged with service and
// host, at the level named by cfg.Level (default info on a parse
// failure).
func Setup(cfg config.LoggingConfig, service string) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	return zerolog.New(consoleWriter).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Str("host", hostname).
		Logger().
		Level(level)
}
