package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix matches the teacher's "MCP_"-prefixed environment variables
// (MCP_API_BASE_URL, MCP_DEV_MODE, ...), generalized here to viper's
// automatic nested-key translation: MCP_AUTH_REQUIRE_RESOURCE_BINDING maps
// to auth.require_resource_binding, etc.
const envPrefix = "MCP"

// Load loads configuration from an optional file path, layered over
// defaults, then overridden by MCP_*-prefixed environment variables.
// Validation is deferred (call Validate after CLI-flag application) to
// preserve the teacher's Load-then-Validate call order.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			if os.IsNotExist(err) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return &cfg, nil
}

// LoadFromEnvironment builds a Config from defaults plus environment
// variables only, for containerized deployments without a mounted file.
func LoadFromEnvironment() (*Config, error) {
	return Load("")
}

// applyDefaults seeds v's defaults from d, keyed by the same mapstructure
// paths Config declares, so env/file overrides layer on top correctly.
func applyDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("supported_versions", d.SupportedVersions)
	v.SetDefault("server_info.name", d.ServerInfo.Name)
	v.SetDefault("server_info.version", d.ServerInfo.Version)
	v.SetDefault("session_lifetime", d.SessionLifetime)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("auth.authless", d.Auth.Authless)
	v.SetDefault("auth.context_types", d.Auth.ContextTypes)
	v.SetDefault("auth.validate_scope", d.Auth.ValidateScope)
	v.SetDefault("auth.required_scopes", d.Auth.RequiredScopes)
	v.SetDefault("auth.require_resource_binding", d.Auth.RequireResourceBind)
	v.SetDefault("auth.jwks_url", d.Auth.JWKSURL)
	v.SetDefault("auth.jwt_issuer", d.Auth.JWTIssuer)
	v.SetDefault("auth.jwt_audience", d.Auth.JWTAudience)
	v.SetDefault("auth.providers", d.Auth.Providers)
	v.SetDefault("auth.oauth_endpoints.authorize", d.Auth.OAuthEndpoints.Authorize)
	v.SetDefault("auth.oauth_endpoints.token", d.Auth.OAuthEndpoints.Token)
	v.SetDefault("auth.oauth_endpoints.register", d.Auth.OAuthEndpoints.Register)
	v.SetDefault("auth.oauth_endpoints.revoke", d.Auth.OAuthEndpoints.Revoke)
	v.SetDefault("auth.oauth_endpoints.resource", d.Auth.OAuthEndpoints.Resource)

	v.SetDefault("sse.keepalive_interval", d.SSE.KeepaliveInterval)
	v.SetDefault("sse.max_connection_time", d.SSE.MaxConnectionTime)
	v.SetDefault("sse.switch_interval_after", d.SSE.SwitchIntervalAfter)
	v.SetDefault("sse.test_mode", d.SSE.TestMode)

	v.SetDefault("streamable_http.keepalive_interval", d.StreamableHTTP.KeepaliveInterval)
	v.SetDefault("streamable_http.max_connection_time", d.StreamableHTTP.MaxConnectionTime)
	v.SetDefault("streamable_http.switch_interval_after", d.StreamableHTTP.SwitchIntervalAfter)
	v.SetDefault("streamable_http.test_mode", d.StreamableHTTP.TestMode)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.redis.enabled", d.Database.Redis.Enabled)
	v.SetDefault("database.redis.addr", d.Database.Redis.Addr)
}
