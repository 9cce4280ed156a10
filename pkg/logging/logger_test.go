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
	if cfg.Output == nil {
		t.Error("Expected default output to be set")
	}
}

func TestSetup_WritesAtConfiguredLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		emit      func(l zerolog.Logger)
		wantEmpty bool
	}{
		{
			name:  "info passes at info",
			level: LevelInfo,
			emit:  func(l zerolog.Logger) { l.Info().Msg("delta applied") },
		},
		{
			name:      "debug filtered at info",
			level:     LevelInfo,
			emit:      func(l zerolog.Logger) { l.Debug().Msg("delta applied") },
			wantEmpty: true,
		},
		{
			name:  "debug passes at debug",
			level: LevelDebug,
			emit:  func(l zerolog.Logger) { l.Debug().Msg("delta applied") },
		},
		{
			name:      "warn filtered at error",
			level:     LevelError,
			emit:      func(l zerolog.Logger) { l.Warn().Msg("delta applied") },
			wantEmpty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})
			tt.emit(logger)

			got := buf.String()
			if tt.wantEmpty && got != "" {
				t.Errorf("expected no output, got %q", got)
			}
			if !tt.wantEmpty && !strings.Contains(got, "delta applied") {
				t.Errorf("expected message in output, got %q", got)
			}
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Msg("push channel open")

	got := buf.String()
	if strings.HasPrefix(got, "{") {
		t.Errorf("pretty output should not be JSON, got %q", got)
	}
	if !strings.Contains(got, "push channel open") {
		t.Errorf("expected message in output, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("push")
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"push"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}
