// Package config loads controller configuration, adapted from the
// teacher's internal/config package: the same Load/DefaultConfig/
// Validate shape, YAML via gopkg.in/yaml.v3, re-scoped to the settings
// of spec.md §6 with environment-variable overrides for the enumerated
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"functionctl/internal/registry"
)

// Config holds all controller configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// SessionConfig controls Session Manager defaults (spec.md §4.5/§6).
type SessionConfig struct {
	ExpirySeconds   time.Duration `yaml:"expiry_seconds"`
	MaxScriptSize   int           `yaml:"max_script_size"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// RuntimeConfig controls Runtime Registry/Client settings (spec.md §6).
type RuntimeConfig struct {
	SelectionStrategy        registry.Strategy `yaml:"selection_strategy"`
	NodejsURL                string            `yaml:"nodejs_runtime_url"`
	PythonURL                string            `yaml:"python_runtime_url"`
	RustURL                  string            `yaml:"rust_runtime_url"`
	DiscoveryURL             string            `yaml:"discovery_url"`
	DiscoveryInterval        time.Duration     `yaml:"discovery_interval"`
	TimeoutSeconds           time.Duration     `yaml:"timeout_seconds"`
	FallbackTimeoutSeconds   time.Duration     `yaml:"fallback_timeout_seconds"`
	MaxRetries               int               `yaml:"max_retries"`
	WasmCompileTimeoutSecs   time.Duration     `yaml:"wasm_compile_timeout_seconds"`
}

// CacheConfig controls the Artifact Cache (spec.md §6).
type CacheConfig struct {
	TTLSeconds   time.Duration `yaml:"ttl_seconds"`
	RedisURL     string        `yaml:"redis_cache_url"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	RedisURL string `yaml:"redis_url"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns spec.md §6's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20,
		},
		Session: SessionConfig{
			ExpirySeconds: 3600 * time.Second,
			MaxScriptSize: 1048576,
			SweepInterval: 60 * time.Second,
		},
		Runtime: RuntimeConfig{
			SelectionStrategy:      registry.PrefixMatching,
			DiscoveryInterval:      30 * time.Second,
			TimeoutSeconds:         30 * time.Second,
			FallbackTimeoutSeconds: 15 * time.Second,
			MaxRetries:             3,
			WasmCompileTimeoutSecs: 60 * time.Second,
		},
		Cache: CacheConfig{
			TTLSeconds: 3600 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// applyEnvOverrides layers the environment variables enumerated in
// spec.md §6 over whatever Load parsed from YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Database.RedisURL = v
	}
	if v := os.Getenv("REDIS_CACHE_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("NODEJS_RUNTIME_URL"); v != "" {
		c.Runtime.NodejsURL = v
	}
	if v := os.Getenv("PYTHON_RUNTIME_URL"); v != "" {
		c.Runtime.PythonURL = v
	}
	if v := os.Getenv("RUST_RUNTIME_URL"); v != "" {
		c.Runtime.RustURL = v
	}
	if v := os.Getenv("RUNTIME_SELECTION_STRATEGY"); v != "" {
		c.Runtime.SelectionStrategy = registry.Strategy(v)
	}
	if v := os.Getenv("RUNTIME_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.TimeoutSeconds = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RUNTIME_FALLBACK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.FallbackTimeoutSeconds = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RUNTIME_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.MaxRetries = n
		}
	}
	if v := os.Getenv("SESSION_EXPIRY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.ExpirySeconds = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MAX_SCRIPT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxScriptSize = n
		}
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.TTLSeconds = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("WASM_COMPILE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.WasmCompileTimeoutSecs = time.Duration(n) * time.Second
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Runtime.FallbackTimeoutSeconds > c.Runtime.TimeoutSeconds {
		return fmt.Errorf("runtime.fallback_timeout_seconds (%s) must be <= timeout_seconds (%s)",
			c.Runtime.FallbackTimeoutSeconds, c.Runtime.TimeoutSeconds)
	}
	if c.Session.MaxScriptSize < 1 {
		return fmt.Errorf("session.max_script_size must be >= 1")
	}
	if c.Runtime.MaxRetries < 0 {
		return fmt.Errorf("runtime.max_retries must be >= 0")
	}
	switch c.Runtime.SelectionStrategy {
	case registry.PrefixMatching, registry.Exact, registry.Discovery:
	default:
		return fmt.Errorf("runtime.selection_strategy must be one of PrefixMatching, Exact, Discovery, got %q", c.Runtime.SelectionStrategy)
	}
	if c.Runtime.SelectionStrategy == registry.Discovery && c.Runtime.DiscoveryURL == "" {
		return fmt.Errorf("runtime.discovery_url is required when selection_strategy is Discovery")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
