package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}

	if cfg.Service != "" {
		t.Errorf("Expected no default service, got %q", cfg.Service)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		log   func(l zerolog.Logger, msg string)
	}{
		{"debug_level", LevelDebug, func(l zerolog.Logger, msg string) { l.Debug().Msg(msg) }},
		{"info_level", LevelInfo, func(l zerolog.Logger, msg string) { l.Info().Msg(msg) }},
		{"warn_level", LevelWarn, func(l zerolog.Logger, msg string) { l.Warn().Msg(msg) }},
		{"error_level", LevelError, func(l zerolog.Logger, msg string) { l.Error().Msg(msg) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			tt.log(logger, "test message")

			if !strings.Contains(buf.String(), "test message") {
				t.Errorf("Expected output to contain %q, got %q", "test message", buf.String())
			}
		})
	}
}

func TestSetup_Service(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, Service: "apaasctl"})

	clientLogger := NewLogger("client")
	clientLogger.Info().Msg("hello")

	output := buf.String()
	if !strings.Contains(output, `"service":"apaasctl"`) {
		t.Errorf("Expected service field, got %q", output)
	}
	if !strings.Contains(output, `"component":"client"`) {
		t.Errorf("Expected component field, got %q", output)
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf, Pretty: true})

	cacheLogger := NewLogger("cache")
	cacheLogger.Info().Msg("pretty message")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON: %q", output)
	}
	if !strings.Contains(output, "pretty message") {
		t.Errorf("Expected message in output, got %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Output: buf,
	})

	logger := NewLogger("test")

	// These should NOT appear (below warn level)
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")

	// These SHOULD appear (warn level and above)
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be included at Warn level")
	}
}
