package config

import "time"

// Config is constructed once at process start and passed by dependency
// injection into each component. Components never read the environment
// themselves.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	OIDC    OIDCConfig    `mapstructure:"oidc"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	AppName        string `mapstructure:"app_name"`
	AppID          string `mapstructure:"app_id"`
	BaseURL        string `mapstructure:"base_url"`
	Environment    string `mapstructure:"environment"`
	LoginRatePerIP int    `mapstructure:"login_rate_per_ip"` // requests per minute
}

type OIDCConfig struct {
	Issuer          string   `mapstructure:"issuer"`
	ClientID        string   `mapstructure:"client_id"`
	ClientSecret    string   `mapstructure:"client_secret"`
	RedirectURL     string   `mapstructure:"redirect_url"`
	Scopes          []string `mapstructure:"scopes"`
	TenantClaim     string   `mapstructure:"tenant_claim"`      // claim carrying the tenant id, e.g. "tid"
	ExchangeTimeout int      `mapstructure:"exchange_timeout_seconds"`
}

type SessionConfig struct {
	CookieName     string `mapstructure:"cookie_name"`
	TTLMinutes     int    `mapstructure:"ttl_minutes"`
	FlowTTLMinutes int    `mapstructure:"flow_ttl_minutes"` // login state/PKCE stash lifetime
	StoreTimeout   int    `mapstructure:"store_timeout_seconds"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type RuntimeConfig struct {
	InvokeURL      string `mapstructure:"invoke_url"`
	BearerToken    string `mapstructure:"bearer_token"`
	ConnectTimeout int    `mapstructure:"connect_timeout_seconds"`
	MaxStreamMins  int    `mapstructure:"max_stream_minutes"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
}

func (c ServerConfig) IsDev() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c OIDCConfig) ExchangeTimeoutDuration() time.Duration {
	if c.ExchangeTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ExchangeTimeout) * time.Second
}

func (c SessionConfig) TTL() time.Duration {
	if c.TTLMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c SessionConfig) FlowTTL() time.Duration {
	if c.FlowTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.FlowTTLMinutes) * time.Minute
}

func (c SessionConfig) StoreTimeoutDuration() time.Duration {
	if c.StoreTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.StoreTimeout) * time.Second
}

func (c RuntimeConfig) ConnectTimeoutDuration() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}

func (c RuntimeConfig) MaxStreamDuration() time.Duration {
	if c.MaxStreamMins <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.MaxStreamMins) * time.Minute
}
