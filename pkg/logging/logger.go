// Package logging configures the zerolog logger shared by all client packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every line as "service" when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. An unknown level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to a zerolog.Level. Matching ignores case
// and accepts "warning" for warn.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case string(LevelDebug):
		return zerolog.DebugLevel, nil
	case string(LevelInfo), "":
		return zerolog.InfoLevel, nil
	case string(LevelWarn), "warning":
		return zerolog.WarnLevel, nil
	case string(LevelError):
		return zerolog.ErrorLevel, nil
	case string(LevelDisabled), "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every platform request (method, route, request id, duration)
//   - Rate limiter dispatches and waits
//   - Page and chunk progress
//   - Metadata cache hit/miss
//
// Info: Normal operation events
//   - Token exchanges
//   - Client initialisation
//   - Server startup/shutdown (apaasctl serve)
//
// Warn: Warning conditions that don't prevent operation
//   - Metadata cache errors (fallback to the platform)
//   - A chunk failed and the remaining chunks were skipped
//   - Pagination stopped at the page cap
//
// Error: Error conditions requiring attention
//   - Failed token exchanges
//   - Configuration errors
//
// Context Fields:
//   - component: auth, ratelimit, transport, pagination, client, cache
//   - namespace: tenant namespace of the client
//   - route: low-cardinality endpoint name (records_query, records_batch_create, ...)
//   - request_id: X-Request-Id sent with the call
//   - status: HTTP status code
//   - code: application code of the envelope
//   - chunk / chunks: position in a chunked batch
//   - page: position in a paginated read
