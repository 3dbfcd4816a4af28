package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName   = "agentgate"
	configFormat = "yaml"
)

// ReadConfig loads configuration from an optional agentgate.yaml in
// configPath, with AGENTGATE_* environment variables overriding file values
// (e.g. AGENTGATE_OIDC_ISSUER overrides oidc.issuer).
func ReadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configFormat)
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when env vars carry the config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.app_name", "AgentGate")
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.login_rate_per_ip", 30)
	v.SetDefault("oidc.scopes", []string{"openid", "profile", "email", "offline_access"})
	v.SetDefault("oidc.tenant_claim", "tid")
	v.SetDefault("session.cookie_name", "session_id")
	v.SetDefault("session.ttl_minutes", 60)
	v.SetDefault("session.flow_ttl_minutes", 10)
	v.SetDefault("runtime.max_stream_minutes", 15)
	v.SetDefault("audit.prefix", "events")
}

// Validate checks that the settings every request path depends on are
// present. Anything touching authentication fails closed at startup.
func (c *Config) Validate() error {
	if c.Server.AppID == "" {
		return fmt.Errorf("server.app_id is required")
	}
	if c.OIDC.Issuer == "" {
		return fmt.Errorf("oidc.issuer is required")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.client_id is required")
	}
	if c.OIDC.RedirectURL == "" {
		return fmt.Errorf("oidc.redirect_url is required")
	}
	if c.Runtime.InvokeURL == "" {
		return fmt.Errorf("runtime.invoke_url is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return fmt.Errorf("audit.dir is required when audit persistence is enabled")
	}
	return nil
}
