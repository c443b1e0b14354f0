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
		t.Errorf("Level = %s, want %s", cfg.Level, LevelInfo)
	}
	if cfg.Pretty {
		t.Error("Pretty = true, want false")
	}
	if cfg.Output == nil {
		t.Error("Output should default to stderr")
	}
}

func TestSetupWritesAtLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		log   func(zerolog.Logger, string)
	}{
		{LevelDebug, func(l zerolog.Logger, m string) { l.Debug().Msg(m) }},
		{LevelInfo, func(l zerolog.Logger, m string) { l.Info().Msg(m) }},
		{LevelWarn, func(l zerolog.Logger, m string) { l.Warn().Msg(m) }},
		{LevelError, func(l zerolog.Logger, m string) { l.Error().Msg(m) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "prefetch " + string(tt.level)
			tt.log(logger, msg)

			if !strings.Contains(buf.String(), msg) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), msg)
			}
		})
	}
}

func TestSetupPretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Str("fingerprint", "AV|TV").Msg("Cache hit")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("pretty output looks like JSON: %q", out)
	}
	if !strings.Contains(out, "Cache hit") {
		t.Errorf("output = %q, want message", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("scheduler")
	logger.Info().Msg("Scheduler started")

	out := buf.String()
	if !strings.Contains(out, `"component":"scheduler"`) {
		t.Errorf("output = %q, want component field", out)
	}
	if !strings.Contains(out, "Scheduler started") {
		t.Errorf("output = %q, want message", out)
	}
}

func TestComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := zerolog.New(buf).With().Str("service", "catalog-warmer").Logger()

	logger := Component(parent, "governor")
	logger.Info().Msg("Cooldown entered")

	out := buf.String()
	for _, want := range []string{`"service":"catalog-warmer"`, `"component":"governor"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want %s", out, want)
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")
	logger.Error().Msg("error message")

	out := buf.String()
	for _, filtered := range []string{"debug message", "info message"} {
		if strings.Contains(out, filtered) {
			t.Errorf("%q should be filtered at warn level", filtered)
		}
	}
	for _, kept := range []string{"warn message", "error message"} {
		if !strings.Contains(out, kept) {
			t.Errorf("%q should be written at warn level", kept)
		}
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
