// Package logging configures structured zerolog logging for the prefetch
// layer and its daemon.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs cache and dispatch flow.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs lifecycle events.
	LevelInfo LogLevel = "info"

	// LevelWarn logs rate limits, retries and discarded prefetches.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output receives the log lines (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Component derives a component logger from parent.
func Component(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug:
//   - Cache hits, misses and stale reads (fingerprint)
//   - Admission and dispatch decisions, shared in-flight fetches
//   - Debounce triggers and cancellations
//
// Info:
//   - Governor entering and leaving cooldown
//   - Preload sweeps (started, finished, counts)
//   - Cache invalidation, session user changes
//   - Daemon startup/shutdown
//
// Warn:
//   - Rate-limit responses and retries
//   - Tasks requeued after exhausted retries
//   - Discarded prefetch failures, submenu failures
//   - Account data unavailable (degraded), undecryptable cards
//
// Error:
//   - Daemon configuration and listener failures
//
// Context Fields:
//   - component: cache, governor, scheduler, preloader, prefetch, debounce, account
//   - scheduler: hover or background
//   - fingerprint: canonical filter query key
//   - category, menu, submenu: catalog hierarchy position
//   - attempt, backoff: retry progress
//   - error_class: rate_limit, transport, malformed, server
//   - user: session user for account records
