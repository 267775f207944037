package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"functionctl/internal/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.ExpirySeconds != 3600*time.Second {
		t.Errorf("Session.ExpirySeconds = %s, want 3600s", cfg.Session.ExpirySeconds)
	}
	if cfg.Session.MaxScriptSize != 1048576 {
		t.Errorf("Session.MaxScriptSize = %d, want 1048576", cfg.Session.MaxScriptSize)
	}
	if cfg.Runtime.SelectionStrategy != registry.PrefixMatching {
		t.Errorf("Runtime.SelectionStrategy = %s, want PrefixMatching", cfg.Runtime.SelectionStrategy)
	}
	if cfg.Runtime.MaxRetries != 3 {
		t.Errorf("Runtime.MaxRetries = %d, want 3", cfg.Runtime.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"fallback > timeout", func(c *Config) {
			c.Runtime.TimeoutSeconds = time.Second
			c.Runtime.FallbackTimeoutSeconds = 2 * time.Second
		}, true},
		{"max_script_size 0", func(c *Config) { c.Session.MaxScriptSize = 0 }, true},
		{"negative max_retries", func(c *Config) { c.Runtime.MaxRetries = -1 }, true},
		{"unknown strategy", func(c *Config) { c.Runtime.SelectionStrategy = "Bogus" }, true},
		{"discovery without url", func(c *Config) { c.Runtime.SelectionStrategy = registry.Discovery }, true},
		{"discovery with url", func(c *Config) {
			c.Runtime.SelectionStrategy = registry.Discovery
			c.Runtime.DiscoveryURL = "http://discovery:8500"
		}, false},
		{"TLS enabled without cert", func(c *Config) { c.TLS.Enabled = true }, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
session:
  max_script_size: 2048
runtime:
  max_retries: 5
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Session.MaxScriptSize != 2048 {
		t.Errorf("Session.MaxScriptSize = %d, want 2048", cfg.Session.MaxScriptSize)
	}
	if cfg.Runtime.MaxRetries != 5 {
		t.Errorf("Runtime.MaxRetries = %d, want 5", cfg.Runtime.MaxRetries)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.WriteString("server:\n  port: 9090\n")
	tmpFile.Close()

	t.Setenv("PORT", "7777")
	t.Setenv("RUNTIME_MAX_RETRIES", "9")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Runtime.MaxRetries != 9 {
		t.Errorf("Runtime.MaxRetries = %d, want env override 9", cfg.Runtime.MaxRetries)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
