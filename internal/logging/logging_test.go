package logging

import (
	"testing"

	"github.com/turtacn/inferserve/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log == nil {
		t.Fatalf("expected non-nil logger")
	}
	log.Infow("test message", "key", "value")
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "not-a-level"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debugw("debug message")
}
