// Package config loads and validates the gateway's configuration surface
// (spec §6): TOML file plus environment overrides, producing an immutable
// Config value after validation. Grounded on the teacher's
// internal/daemon/config.go — the same DefaultConfig/LoadConfig/SaveConfig
// shape over github.com/BurntSushi/toml — generalized from the teacher's
// node/inference/telemetry sections to the spec's server/engine/plugins/
// monitoring/security/storage/logging sections.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/turtacn/inferserve/internal/apierr"
)

// Config is the full, validated configuration surface.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Engine     EngineConfig     `toml:"engine"`
	Plugins    PluginsConfig    `toml:"plugins"`
	Monitoring MonitoringConfig `toml:"monitoring"`
	Security   SecurityConfig   `toml:"security"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	GRPCPort          int    `toml:"grpc_port"`
	MaxConnections    int    `toml:"max_connections"`
	RequestTimeoutSec int    `toml:"request_timeout_secs"`
	TLSCertPath       string `toml:"tls_cert_path"`
	TLSKeyPath        string `toml:"tls_key_path"`
	WorkerThreads     int    `toml:"worker_threads"`
}

// ModelDefaults mirrors domain.BatchPolicy's surface for TOML decoding and
// per-model override merging at registration time.
type ModelDefaults struct {
	MaxBatchSize   int   `toml:"max_batch_size"`
	MaxWaitTimeMs  int64 `toml:"max_wait_time_ms"`
	DynamicPadding bool  `toml:"dynamic_padding"`
	TimeoutMs      int64 `toml:"timeout_ms"`
}

type GPUConfig struct {
	DeviceIDs      []int   `toml:"device_ids"`
	MemoryFraction float64 `toml:"memory_fraction"`
	Pooling        bool    `toml:"pooling"`
	P2P            bool    `toml:"p2p"`
}

type MemoryConfig struct {
	MaxGB   float64 `toml:"max_gb"`
	Mmap    bool    `toml:"mmap"`
	CacheMB int     `toml:"cache_mb"`
}

type EngineConfig struct {
	MaxModels            int           `toml:"max_models"`
	DefaultBatch         int           `toml:"default_batch_size"`
	MaxBatchWaitMs       int64         `toml:"max_batch_wait_ms"`
	IngressHighWatermark int           `toml:"ingress_high_watermark"`
	IdleTimeoutSec       int           `toml:"idle_timeout_secs"`
	SnapshotIntervalSec  int           `toml:"snapshot_interval_secs"`
	ModelDefaults        ModelDefaults `toml:"model_defaults"`
	GPU                  GPUConfig     `toml:"gpu"`
	Memory               MemoryConfig  `toml:"memory"`
}

type PluginsConfig struct {
	Directory  string                    `toml:"directory"`
	Enabled    []string                  `toml:"enabled"`
	PerPlugin  map[string]map[string]any `toml:"per_plugin"`
	TimeoutSec int                       `toml:"timeout_secs"`
}

type MonitoringConfig struct {
	MetricsEnabled  bool   `toml:"metrics_enabled"`
	MetricsPort     int    `toml:"metrics_port"`
	TracingEndpoint string `toml:"tracing_endpoint"`
	HealthInterval  int    `toml:"health_interval_secs"`
	MetricsInterval int    `toml:"metrics_interval_secs"`
}

type RateLimitConfig struct {
	Enabled bool `toml:"enabled"`
	RPM     int  `toml:"rpm"`
	Burst   int  `toml:"burst"`
}

type SecurityConfig struct {
	AuthEnabled bool            `toml:"auth_enabled"`
	JWTSecret   string          `toml:"jwt_secret"`
	APIKeys     []string        `toml:"api_keys"`
	CORSOrigins []string        `toml:"cors_origins"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

type StorageConfig struct {
	ModelPath string  `toml:"model_path"`
	CachePath string  `toml:"cache_path"`
	LogPath   string  `toml:"log_path"`
	MaxGB     float64 `toml:"max_gb"`
}

type LoggingConfig struct {
	Level     string   `toml:"level"`
	Format    string   `toml:"format"`
	Sinks     []string `toml:"sinks"`
	Rotation  string   `toml:"rotation"`
	Retention string   `toml:"retention"`
}

// Default returns the gateway's default configuration, applied before any
// TOML file or environment override is layered on.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			GRPCPort:          8081,
			MaxConnections:    256,
			RequestTimeoutSec: 30,
			WorkerThreads:     0,
		},
		Engine: EngineConfig{
			MaxModels:           16,
			DefaultBatch:        8,
			MaxBatchWaitMs:      50,
			IdleTimeoutSec:      300,
			SnapshotIntervalSec: 30,
			ModelDefaults: ModelDefaults{
				MaxBatchSize:  8,
				MaxWaitTimeMs: 50,
				TimeoutMs:     30_000,
			},
			GPU: GPUConfig{
				DeviceIDs:      []int{0},
				MemoryFraction: 0.9,
			},
			Memory: MemoryConfig{
				MaxGB:   16,
				CacheMB: 512,
			},
		},
		Plugins: PluginsConfig{
			Directory:  "./plugins",
			Enabled:    []string{"mock"},
			TimeoutSec: 60,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  true,
			MetricsPort:     9090,
			HealthInterval:  10,
			MetricsInterval: 15,
		},
		Security: SecurityConfig{
			CORSOrigins: []string{"*"},
			RateLimit:   RateLimitConfig{Enabled: false, RPM: 600, Burst: 60},
		},
		Storage: StorageConfig{
			ModelPath: "./data/models",
			CachePath: "./data/cache",
			LogPath:   "./data/logs",
			MaxGB:     50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Sinks:  []string{"stdout"},
		},
	}
}

// Load reads path (if it exists) over the defaults, applies environment
// overrides, validates, and returns the resulting immutable Config.
// A missing file is not an error — Default() alone is valid.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, apierr.NewConfig(fmt.Sprintf("parse config file %q", path), err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides implements spec §6's environment override list. Parse
// failures are fatal, per spec.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return apierr.NewConfig("parse PORT", err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return apierr.NewConfig("parse GRPC_PORT", err)
		}
		cfg.Server.GRPCPort = p
	}
	if v := os.Getenv("MAX_MODELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apierr.NewConfig("parse MAX_MODELS", err)
		}
		cfg.Engine.MaxModels = n
	}
	if v := os.Getenv("GPU_DEVICES"); v != "" {
		ids, err := parseIntList(v)
		if err != nil {
			return apierr.NewConfig("parse GPU_DEVICES", err)
		}
		cfg.Engine.GPU.DeviceIDs = ids
	}
	if v := os.Getenv("PLUGIN_DIR"); v != "" {
		cfg.Plugins.Directory = v
	}
	return nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// validate enforces spec §6's load-time constraints.
func validate(cfg Config) error {
	ports := map[string]int{"server.port": cfg.Server.Port, "server.grpc_port": cfg.Server.GRPCPort}
	seen := make(map[int]string)
	for name, p := range ports {
		if p < 1 || p > 65535 {
			return apierr.NewConfig(fmt.Sprintf("%s must be in 1..65535, got %d", name, p), nil)
		}
		if other, ok := seen[p]; ok {
			return apierr.NewConfig(fmt.Sprintf("%s and %s must not share port %d", name, other, p), nil)
		}
		seen[p] = name
	}

	if cfg.Engine.DefaultBatch <= 0 {
		return apierr.NewConfig("engine.default_batch_size must be > 0", nil)
	}
	if cfg.Engine.MaxBatchWaitMs <= 0 {
		return apierr.NewConfig("engine.max_batch_wait_ms must be > 0", nil)
	}
	if len(cfg.Engine.GPU.DeviceIDs) == 0 {
		return apierr.NewConfig("engine.gpu.device_ids must be non-empty", nil)
	}
	if cfg.Engine.GPU.MemoryFraction <= 0 || cfg.Engine.GPU.MemoryFraction > 1 {
		return apierr.NewConfig("engine.gpu.memory_fraction must be in (0, 1]", nil)
	}
	if cfg.Storage.ModelPath == "" {
		return apierr.NewConfig("storage.model_path must be non-empty", nil)
	}
	if (cfg.Server.TLSCertPath != "") != (cfg.Server.TLSKeyPath != "") {
		return apierr.NewConfig("server TLS requires both tls_cert_path and tls_key_path", nil)
	}

	return nil
}
