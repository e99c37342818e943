package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if len(cfg.SupportedVersions) != 3 || cfg.SupportedVersions[0] != "2025-06-18" {
		t.Errorf("SupportedVersions = %v", cfg.SupportedVersions)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
	if !cfg.Auth.RequireResourceBind {
		t.Errorf("expected RequireResourceBind default true")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		checks  func(*testing.T, *Config)
	}{
		{
			name: "base url override",
			envVars: map[string]string{
				"MCP_BASE_URL": "https://mcp.example.com",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.BaseURL != "https://mcp.example.com" {
					t.Errorf("BaseURL = %q", cfg.BaseURL)
				}
			},
		},
		{
			name: "database driver override",
			envVars: map[string]string{
				"MCP_DATABASE_DRIVER": "postgres",
				"MCP_DATABASE_DSN":    "postgres://localhost/mcp",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Database.Driver != "postgres" {
					t.Errorf("Database.Driver = %q", cfg.Database.Driver)
				}
				if cfg.Database.DSN != "postgres://localhost/mcp" {
					t.Errorf("Database.DSN = %q", cfg.Database.DSN)
				}
			},
		},
		{
			name: "resource binding override",
			envVars: map[string]string{
				"MCP_AUTH_REQUIRE_RESOURCE_BINDING": "false",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.Auth.RequireResourceBind {
					t.Errorf("expected RequireResourceBind=false")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "base_url: https://from-file.example.com\ndatabase:\n  driver: postgres\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://from-file.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != ErrConfigFileNotFound {
		t.Fatalf("err = %v, want ErrConfigFileNotFound", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("base_url: https://from-file.example.com\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("MCP_BASE_URL", "https://from-env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://from-env.example.com" {
		t.Errorf("env override did not take effect: BaseURL = %q", cfg.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid default config",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.BaseURL = "" },
			wantErr: ErrMissingBaseURL,
		},
		{
			name:    "missing supported versions",
			mutate:  func(c *Config) { c.SupportedVersions = nil },
			wantErr: ErrMissingSupportedVersions,
		},
		{
			name: "missing storage driver when not authless",
			mutate: func(c *Config) {
				c.Database.Driver = ""
				c.Auth.Authless = false
			},
			wantErr: ErrMissingStorageDriver,
		},
		{
			name: "missing storage driver tolerated when authless",
			mutate: func(c *Config) {
				c.Database.Driver = ""
				c.Auth.Authless = true
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err != tt.wantErr {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSessionLifetime(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SessionLifetime != time.Hour {
		t.Errorf("SessionLifetime = %v, want 1h", cfg.SessionLifetime)
	}
}
