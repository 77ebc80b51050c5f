package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("got port %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxModels != 16 {
		t.Fatalf("got max_models %d, want 16", cfg.Engine.MaxModels)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
[server]
port = 9000

[engine]
max_models = 4
default_batch_size = 2
max_batch_wait_ms = 20

[engine.gpu]
device_ids = [0, 1]
memory_fraction = 0.5

[storage]
model_path = "/tmp/models"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("got port %d, want 9000", cfg.Server.Port)
	}
	if cfg.Engine.MaxModels != 4 {
		t.Fatalf("got max_models %d, want 4", cfg.Engine.MaxModels)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("MAX_MODELS", "3")
	t.Setenv("GPU_DEVICES", "0,1,2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("got port %d, want 7000", cfg.Server.Port)
	}
	if cfg.Engine.MaxModels != 3 {
		t.Fatalf("got max_models %d, want 3", cfg.Engine.MaxModels)
	}
	if len(cfg.Engine.GPU.DeviceIDs) != 3 {
		t.Fatalf("got %d device ids, want 3", len(cfg.Engine.GPU.DeviceIDs))
	}
}

func TestEnvOverrideParseFailureIsFatal(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse failure for malformed PORT")
	}
}

func TestValidatePortCollision(t *testing.T) {
	cfg := Default()
	cfg.Server.GRPCPort = cfg.Server.Port
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for colliding ports")
	}
}

func TestValidateEmptyGPUDevices(t *testing.T) {
	cfg := Default()
	cfg.Engine.GPU.DeviceIDs = nil
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for empty GPU device list")
	}
}

func TestValidateMemoryFractionBounds(t *testing.T) {
	cfg := Default()
	cfg.Engine.GPU.MemoryFraction = 1.5
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for memory fraction > 1")
	}
}

func TestValidateTLSRequiresBoth(t *testing.T) {
	cfg := Default()
	cfg.Server.TLSCertPath = "/tmp/cert.pem"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for cert without key")
	}
}
