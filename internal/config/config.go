// Package config loads the service's process-wide configuration via viper
// (YAML file plus environment override), validates it, and exposes an
// immutable Config value. Configuration is read once at startup; nothing
// in this package supports hot reload.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide, immutable-after-load configuration.
type Config struct {
	JWTSecret    string
	JWTAlgorithm string

	AccessTokenTTL    time.Duration
	DelegationTokenTTL time.Duration

	AuthBind       string
	ResourceBind   string
	ManagementBind string

	CORSOrigins []string

	RateLimitPerMinute int

	OIDCIssuerURL     string
	OIDCRealm         string
	OIDCClientID      string
	OIDCClientSecret  string
	OIDCRedirectURI   string

	VaultAddr  string
	VaultMount string

	DatabaseURL string

	LogLevel string
}

// OIDCEnabled reports whether the OIDC adapter should be wired in.
func (c Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != ""
}

// Load reads configuration from ./config.yaml (or ./config/config.yaml),
// overridden by DELEGATIONAUTH_-prefixed environment variables, and
// validates it. A missing config file is not an error: defaults plus
// environment variables may fully configure the service.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("access_token_ttl_minutes", 5)
	v.SetDefault("delegation_token_ttl_minutes", 10)
	v.SetDefault("auth_bind", ":8080")
	v.SetDefault("resource_bind", ":8081")
	v.SetDefault("management_bind", ":8082")
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("rate_limit_per_minute", 120)
	v.SetDefault("oidc_issuer_url", "")
	v.SetDefault("oidc_realm", "")
	v.SetDefault("oidc_client_id", "")
	v.SetDefault("oidc_client_secret", "")
	v.SetDefault("oidc_redirect_uri", "")
	v.SetDefault("vault_addr", "")
	v.SetDefault("vault_mount", "secret")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("delegationauth")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
		log.Printf("config: no config file found, using defaults and environment")
	}

	cfg := Config{
		JWTSecret:          v.GetString("jwt_secret"),
		JWTAlgorithm:       v.GetString("jwt_algorithm"),
		AccessTokenTTL:     time.Duration(v.GetInt("access_token_ttl_minutes")) * time.Minute,
		DelegationTokenTTL: time.Duration(v.GetInt("delegation_token_ttl_minutes")) * time.Minute,
		AuthBind:           v.GetString("auth_bind"),
		ResourceBind:       v.GetString("resource_bind"),
		ManagementBind:     v.GetString("management_bind"),
		CORSOrigins:        v.GetStringSlice("cors_origins"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		OIDCIssuerURL:      v.GetString("oidc_issuer_url"),
		OIDCRealm:          v.GetString("oidc_realm"),
		OIDCClientID:       v.GetString("oidc_client_id"),
		OIDCClientSecret:   v.GetString("oidc_client_secret"),
		OIDCRedirectURI:    v.GetString("oidc_redirect_uri"),
		VaultAddr:          v.GetString("vault_addr"),
		VaultMount:         v.GetString("vault_mount"),
		DatabaseURL:        v.GetString("database_url"),
		LogLevel:           v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the constraints the spec places on configuration:
// jwt_secret must be at least 32 bytes.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("config: jwt_secret must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("config: unsupported jwt_algorithm %q", c.JWTAlgorithm)
	}
	return nil
}
