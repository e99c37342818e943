// Package config holds the server's configuration shape and layering
// (§6 "Configuration options"), generalized from the teacher's
// internal/mcpserver/config/{config,loader,errors}.go — same layering
// (defaults, file, environment, deferred validation for CLI override) and
// the same Load/Validate call shape, rebuilt on viper instead of hand-rolled
// os.Getenv scanning.
package config

import "time"

// Config holds all configuration for the MCP server.
type Config struct {
	BaseURL            string         `mapstructure:"base_url"`
	SupportedVersions  []string       `mapstructure:"supported_versions"`
	ServerInfo         ServerInfo     `mapstructure:"server_info"`
	SessionLifetime    time.Duration  `mapstructure:"session_lifetime"`
	Auth               AuthConfig     `mapstructure:"auth"`
	SSE                StreamConfig   `mapstructure:"sse"`
	StreamableHTTP     StreamConfig   `mapstructure:"streamable_http"`
	Database           DatabaseConfig `mapstructure:"database"`
	ListenAddr         string         `mapstructure:"listen_addr"`
	LogLevel           string         `mapstructure:"log_level"`
}

// ServerInfo is advertised in the initialize response (§4.D).
type ServerInfo struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// AuthConfig configures the resource-server middleware (§4.H) and the OAuth
// authorization server (§4.G).
type AuthConfig struct {
	Authless             bool     `mapstructure:"authless"`
	ContextTypes         []string `mapstructure:"context_types"`
	ValidateScope        bool     `mapstructure:"validate_scope"`
	RequiredScopes       []string `mapstructure:"required_scopes"`
	RequireResourceBind  bool     `mapstructure:"require_resource_binding"`
	OAuthEndpoints       OAuthEndpointsConfig `mapstructure:"oauth_endpoints"`
	JWKSURL              string   `mapstructure:"jwks_url"`
	JWTIssuer            string   `mapstructure:"jwt_issuer"`
	JWTAudience          string   `mapstructure:"jwt_audience"`
	Providers            []string `mapstructure:"providers"`
}

// OAuthEndpointsConfig is the configurable path map for the AS's endpoints.
type OAuthEndpointsConfig struct {
	Authorize    string `mapstructure:"authorize"`
	Token        string `mapstructure:"token"`
	Register     string `mapstructure:"register"`
	Revoke       string `mapstructure:"revoke"`
	Resource     string `mapstructure:"resource"`
}

// StreamConfig configures an async transport (§4.E): SSE or streamable-HTTP.
type StreamConfig struct {
	KeepaliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	MaxConnectionTime    time.Duration `mapstructure:"max_connection_time"`
	SwitchIntervalAfter  time.Duration `mapstructure:"switch_interval_after"`
	TestMode             bool          `mapstructure:"test_mode"`
}

// DatabaseConfig is opaque storage-driver configuration (§6: "Storage-driver-
// specific database.*, opaque to engine"). Driver selects which mcpstorage
// implementation cmd/mcpserver wires up.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "memory" | "postgres"
	DSN    string `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the optional redisqueue message-store backend.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Validate checks that Config is usable. Deferred until after CLI-flag
// overrides are applied by the caller, matching the teacher's
// Load-then-Validate call order.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if len(c.SupportedVersions) == 0 {
		return ErrMissingSupportedVersions
	}
	if !c.Auth.Authless {
		if c.Database.Driver == "" {
			return ErrMissingStorageDriver
		}
	}
	return nil
}

// DefaultConfig returns a configuration with the defaults §6 enumerates.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://localhost:8080",
		SupportedVersions: []string{"2025-06-18", "2025-03-26", "2024-11-05"},
		ServerInfo:        ServerInfo{Name: "toolbridge-mcp", Version: "dev"},
		SessionLifetime:   time.Hour,
		ListenAddr:        ":8080",
		LogLevel:          "info",
		Auth: AuthConfig{
			Authless:            false,
			ContextTypes:        []string{"agency", "user"},
			ValidateScope:       true,
			RequireResourceBind: true,
			OAuthEndpoints: OAuthEndpointsConfig{
				Authorize: "/oauth/authorize",
				Token:     "/oauth/token",
				Register:  "/oauth/register",
				Revoke:    "/oauth/revoke",
				Resource:  "/.well-known/oauth-protected-resource",
			},
		},
		SSE: StreamConfig{
			KeepaliveInterval:   15 * time.Second,
			MaxConnectionTime:   30 * time.Minute,
			SwitchIntervalAfter: 30 * time.Second,
		},
		StreamableHTTP: StreamConfig{
			KeepaliveInterval:   15 * time.Second,
			MaxConnectionTime:   30 * time.Minute,
			SwitchIntervalAfter: 30 * time.Second,
		},
		Database: DatabaseConfig{Driver: "memory"},
	}
}
